package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, username, email, passwordHash, verifyTokenHash string, verifyExpiresAt time.Time) (User, error) {
	const insert = `
		INSERT INTO users (username, email, password_hash, verify_token_hash, verify_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, email, password_hash, email_verified, theme, font_size, created_at, updated_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, insert, username, email, passwordHash, verifyTokenHash, verifyExpiresAt).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.Theme, &user.FontSize, &user.CreatedAt, &user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return User{}, ErrDuplicate
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id = $1`, userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE LOWER(email) = LOWER($1)`, email)
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg any) (User, error) {
	query := `
		SELECT id, username, email, password_hash, email_verified, theme, font_size, created_at, updated_at
		FROM users ` + where
	var user User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.Theme, &user.FontSize, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// VerifyEmail consumes a verification token, marking the account verified.
func (s *PostgresStore) VerifyEmail(ctx context.Context, tokenHash string) (User, error) {
	const update = `
		UPDATE users
		SET email_verified = TRUE, verify_token_hash = NULL, verify_expires_at = NULL, updated_at = NOW()
		WHERE verify_token_hash = $1 AND verify_expires_at > NOW()
		RETURNING id, username, email, password_hash, email_verified, theme, font_size, created_at, updated_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, update, tokenHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.Theme, &user.FontSize, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("verify email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET reset_token_hash = $2, reset_expires_at = $3, updated_at = NOW() WHERE id = $1
	`, userID, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

// ResetPassword consumes a reset token and replaces the password hash.
func (s *PostgresStore) ResetPassword(ctx context.Context, tokenHash, newPasswordHash string) (User, error) {
	const update = `
		UPDATE users
		SET password_hash = $2, reset_token_hash = NULL, reset_expires_at = NULL, updated_at = NOW()
		WHERE reset_token_hash = $1 AND reset_expires_at > NOW()
		RETURNING id, username, email, password_hash, email_verified, theme, font_size, created_at, updated_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, update, tokenHash, newPasswordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.Theme, &user.FontSize, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("reset password: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, theme string, fontSize int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET theme = $2, font_size = $3, updated_at = NOW() WHERE id = $1
	`, userID, theme, fontSize)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- refresh sessions ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.email, u.password_hash, u.email_verified, u.theme, u.font_size, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.EmailVerified,
		&user.Theme, &user.FontSize, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

// --- folders ---

func (s *PostgresStore) CreateFolder(ctx context.Context, name string, parentID, ownerID *string) (Folder, error) {
	const insert = `
		INSERT INTO folders (name, parent_id, owner_id)
		VALUES ($1, $2, $3)
		RETURNING id, name, parent_id, owner_id, created_at
	`
	var folder Folder
	err := s.db.QueryRowContext(ctx, insert, name, parentID, ownerID).Scan(
		&folder.ID, &folder.Name, &folder.ParentID, &folder.OwnerID, &folder.CreatedAt,
	)
	if isUniqueViolation(err) {
		return Folder{}, ErrDuplicate
	}
	if err != nil {
		return Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return folder, nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var folder Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_id, owner_id, created_at FROM folders WHERE id = $1
	`, folderID).Scan(&folder.ID, &folder.Name, &folder.ParentID, &folder.OwnerID, &folder.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, ErrNotFound
	}
	if err != nil {
		return Folder{}, fmt.Errorf("lookup folder: %w", err)
	}
	return folder, nil
}

func (s *PostgresStore) RenameFolder(ctx context.Context, folderID, name string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE folders SET name = $2 WHERE id = $1`, folderID, name)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFolder removes a folder and, through cascading constraints, every
// folder, file, and file content below it.
func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id = $1`, folderID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- files ---

// CreateFile inserts the tree entry and seeds its content row in one
// transaction, so a file can always be opened immediately after creation.
func (s *PostgresStore) CreateFile(ctx context.Context, name string, parentID, ownerID *string, language, content string) (File, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return File{}, fmt.Errorf("begin create file: %w", err)
	}
	defer tx.Rollback()

	const insert = `
		INSERT INTO files (name, parent_id, owner_id, language, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, parent_id, owner_id, language, size_bytes, created_at, updated_at
	`
	var file File
	err = tx.QueryRowContext(ctx, insert, name, parentID, ownerID, language, len(content)).Scan(
		&file.ID, &file.Name, &file.ParentID, &file.OwnerID, &file.Language,
		&file.SizeBytes, &file.CreatedAt, &file.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return File{}, ErrDuplicate
	}
	if err != nil {
		return File{}, fmt.Errorf("insert file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_contents (file_id, content, last_modified_by) VALUES ($1, $2, $3)
	`, file.ID, content, ownerID); err != nil {
		return File{}, fmt.Errorf("insert file content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return File{}, fmt.Errorf("commit create file: %w", err)
	}
	return file, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (File, error) {
	var file File
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, parent_id, owner_id, language, size_bytes, created_at, updated_at
		FROM files WHERE id = $1
	`, fileID).Scan(
		&file.ID, &file.Name, &file.ParentID, &file.OwnerID, &file.Language,
		&file.SizeBytes, &file.CreatedAt, &file.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, fmt.Errorf("lookup file: %w", err)
	}
	return file, nil
}

func (s *PostgresStore) RenameFile(ctx context.Context, fileID, name, language string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE files SET name = $2, language = $3, updated_at = NOW() WHERE id = $1
	`, fileID, name, language)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteFile(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTree returns the whole workspace hierarchy as nested nodes with
// children sorted folders-first, then by name.
func (s *PostgresStore) ListTree(ctx context.Context) ([]TreeNode, error) {
	folderRows, err := s.db.QueryContext(ctx, `SELECT id, name, parent_id FROM folders`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer folderRows.Close()

	byParent := map[string][]TreeNode{}
	for folderRows.Next() {
		node := TreeNode{Kind: "folder"}
		if err := folderRows.Scan(&node.ID, &node.Name, &node.ParentID); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		byParent[keyOf(node.ParentID)] = append(byParent[keyOf(node.ParentID)], node)
	}
	if err := folderRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}

	fileRows, err := s.db.QueryContext(ctx, `SELECT id, name, parent_id, language FROM files`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer fileRows.Close()

	for fileRows.Next() {
		node := TreeNode{Kind: "file"}
		if err := fileRows.Scan(&node.ID, &node.Name, &node.ParentID, &node.Language); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		byParent[keyOf(node.ParentID)] = append(byParent[keyOf(node.ParentID)], node)
	}
	if err := fileRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}

	return buildTree(byParent, ""), nil
}

func keyOf(parentID *string) string {
	if parentID == nil {
		return ""
	}
	return *parentID
}

func buildTree(byParent map[string][]TreeNode, parent string) []TreeNode {
	nodes := byParent[parent]
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Kind != nodes[j].Kind {
			return nodes[i].Kind == "folder"
		}
		return nodes[i].Name < nodes[j].Name
	})
	for i := range nodes {
		if nodes[i].Kind == "folder" {
			nodes[i].Children = buildTree(byParent, nodes[i].ID)
		}
	}
	return nodes
}

// --- file contents ---

func (s *PostgresStore) GetFileContent(ctx context.Context, fileID string) (FileContent, error) {
	var content FileContent
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, content, version, last_modified_by, updated_at
		FROM file_contents WHERE file_id = $1
	`, fileID).Scan(&content.FileID, &content.Content, &content.Version, &content.LastModifiedBy, &content.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return FileContent{}, ErrNotFound
	}
	if err != nil {
		return FileContent{}, fmt.Errorf("read file content: %w", err)
	}
	return content, nil
}

// UpdateFileContent is the single-writer REST path: the update applies only
// if the stored version still matches baseVersion, and bumps it by one.
func (s *PostgresStore) UpdateFileContent(ctx context.Context, fileID, content string, baseVersion int64, userID *string) (FileContent, error) {
	const update = `
		UPDATE file_contents
		SET content = $2, version = version + 1, last_modified_by = $3, updated_at = NOW()
		WHERE file_id = $1 AND version = $4
		RETURNING file_id, content, version, last_modified_by, updated_at
	`
	var updated FileContent
	err := s.db.QueryRowContext(ctx, update, fileID, content, userID, baseVersion).Scan(
		&updated.FileID, &updated.Content, &updated.Version, &updated.LastModifiedBy, &updated.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if _, lookupErr := s.GetFileContent(ctx, fileID); lookupErr != nil {
			return FileContent{}, lookupErr
		}
		return FileContent{}, ErrVersionConflict
	}
	if err != nil {
		return FileContent{}, fmt.Errorf("update file content: %w", err)
	}
	s.touchFileSize(ctx, fileID, len(content))
	return updated, nil
}

// WriteFileContent stores a snapshot at an explicit version, applying only
// if the stored version still matches expected. This is the collaboration
// flush path, where the version was assigned in memory ahead of the write.
func (s *PostgresStore) WriteFileContent(ctx context.Context, fileID, content string, version, expected int64, userID *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE file_contents
		SET content = $2, version = $3, last_modified_by = $4, updated_at = NOW()
		WHERE file_id = $1 AND version = $5
	`, fileID, content, version, userID, expected)
	if err != nil {
		return fmt.Errorf("write file content: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, lookupErr := s.GetFileContent(ctx, fileID); lookupErr != nil {
			return lookupErr
		}
		return ErrVersionConflict
	}
	s.touchFileSize(ctx, fileID, len(content))
	return nil
}

// touchFileSize keeps the tree entry's size current. Best effort: a stale
// size never blocks a content write.
func (s *PostgresStore) touchFileSize(ctx context.Context, fileID string, size int) {
	_, _ = s.db.ExecContext(ctx, `UPDATE files SET size_bytes = $2, updated_at = NOW() WHERE id = $1`, fileID, size)
}

// ListFileRecords returns every file joined with its content and full path,
// for search reindexing and archive export.
func (s *PostgresStore) ListFileRecords(ctx context.Context) ([]FileRecord, error) {
	const query = `
		WITH RECURSIVE folder_paths AS (
			SELECT id, name::text AS path FROM folders WHERE parent_id IS NULL
			UNION ALL
			SELECT f.id, fp.path || '/' || f.name FROM folders f
			JOIN folder_paths fp ON fp.id = f.parent_id
		)
		SELECT f.id, f.name,
			COALESCE(fp.path || '/', '') || f.name AS path,
			f.language, fc.content, fc.version
		FROM files f
		JOIN file_contents fc ON fc.file_id = f.id
		LEFT JOIN folder_paths fp ON fp.id = f.parent_id
		ORDER BY path
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list file records: %w", err)
	}
	defer rows.Close()

	records := make([]FileRecord, 0)
	for rows.Next() {
		var record FileRecord
		if err := rows.Scan(&record.ID, &record.Name, &record.Path, &record.Language, &record.Content, &record.Version); err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file records: %w", err)
	}
	return records, nil
}
