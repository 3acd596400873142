// Package history keeps an append-only edit history per file, backed by one
// git repository per file. Every persistence flush becomes a commit, so the
// whole snapshot timeline of a file can be browsed and restored.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// contentFile is the fixed blob name inside each per-file repository. The
// display name lives in the database; keeping the blob name stable makes
// renames free.
const contentFile = "content"

// CommitInfo describes one snapshot in a file's history.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitSnapshot records a persisted snapshot, initializing the file's
// repository on first use. Identical consecutive snapshots are skipped.
func (s *Service) CommitSnapshot(fileID, content string, version int64, author string) (CommitInfo, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(fileID)
	if err != nil {
		return CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	path := filepath.Join(worktree.Filesystem.Root(), contentFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write snapshot: %w", err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add snapshot: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() {
		// Nothing changed since the last commit; return it instead.
		head, err := repo.Head()
		if err != nil {
			return CommitInfo{}, fmt.Errorf("resolve head: %w", err)
		}
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return CommitInfo{}, fmt.Errorf("read head commit: %w", err)
		}
		return toCommitInfo(commitObj), nil
	}

	if author == "" {
		author = "codepad"
	}
	hash, err := worktree.Commit(fmt.Sprintf("Snapshot v%d", version), &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.codepad.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists snapshots from newest to oldest, up to limit (0 = all).
func (s *Service) History(fileID string, limit int) ([]CommitInfo, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(fileID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []CommitInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetByHash returns the snapshot content at a given commit.
func (s *Service) GetByHash(fileID, hash string) (string, error) {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(fileID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}

	file, err := commitObj.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load snapshot from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	contents, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read snapshot bytes: %w", err)
	}
	return string(contents), nil
}

// Remove deletes the file's repository (file deletion).
func (s *Service) Remove(fileID string) error {
	lock := s.fileLock(fileID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(fileID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

func (s *Service) openOrInit(fileID string) (*git.Repository, error) {
	path := s.repoPath(fileID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(fileID string) string {
	return filepath.Join(s.baseDir, fileID)
}

func (s *Service) fileLock(fileID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[fileID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[fileID] = lock
	return lock
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	resolved := plumbing.NewHash(hash)
	if resolved.IsZero() {
		return plumbing.ZeroHash, fmt.Errorf("invalid commit hash %q", hash)
	}
	if _, err := repo.CommitObject(resolved); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve commit %s: %w", hash, err)
	}
	return resolved, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:    commitObj.Hash.String(),
		Message: strings.TrimSpace(commitObj.Message),
		Author:  commitObj.Author.Name,
		When:    commitObj.Author.When,
	}
}

var emailUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeEmail(name string) string {
	cleaned := emailUnsafe.ReplaceAllString(strings.ToLower(name), ".")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "user"
	}
	return cleaned
}
