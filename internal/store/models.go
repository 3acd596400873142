package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound reports a missing row for lookups that distinguish
	// absence from failure.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate reports a uniqueness violation (username, email, or a
	// name already taken inside a folder).
	ErrDuplicate = errors.New("already exists")

	// ErrVersionConflict reports an optimistic concurrency failure on a
	// file content update.
	ErrVersionConflict = errors.New("version conflict")
)

type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	EmailVerified bool
	Theme         string
	FontSize      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Folder struct {
	ID        string
	Name      string
	ParentID  *string
	OwnerID   *string
	CreatedAt time.Time
}

type File struct {
	ID        string
	Name      string
	ParentID  *string
	OwnerID   *string
	Language  string
	SizeBytes int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type FileContent struct {
	FileID         string
	Content        string
	Version        int64
	LastModifiedBy *string
	UpdatedAt      time.Time
}

// TreeNode is one entry of the workspace tree as served to clients. Kind is
// "file" or "folder"; folder entries carry no language.
type TreeNode struct {
	Kind     string     `json:"kind"`
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	ParentID *string    `json:"parentId,omitempty"`
	Language string     `json:"language,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// FileRecord is the flattened file row used for search indexing and archive
// export, joining the tree entry with its stored content.
type FileRecord struct {
	ID       string
	Name     string
	Path     string
	Language string
	Content  string
	Version  int64
}
