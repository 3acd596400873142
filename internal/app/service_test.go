package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"codepad/api/internal/accounts"
	"codepad/api/internal/archive"
	"codepad/api/internal/config"
	"codepad/api/internal/history"
	"codepad/api/internal/presence"
	"codepad/api/internal/search"
	"codepad/api/internal/store"
)

// fakeStore is an in-memory stand-in for the Postgres store, implementing
// both the app dataStore and the accounts.UserStore surface so one fixture
// backs full signup-to-edit flows.
type fakeStore struct {
	mu sync.Mutex

	nextID   int
	users    map[string]store.User
	byEmail  map[string]string
	verify   map[string]string // token hash -> user ID
	reset    map[string]string
	refresh  map[string]string // token hash -> user ID
	folders  map[string]store.Folder
	files    map[string]store.File
	contents map[string]store.FileContent

	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]store.User),
		byEmail:  make(map[string]string),
		verify:   make(map[string]string),
		reset:    make(map[string]string),
		refresh:  make(map[string]string),
		folders:  make(map[string]store.Folder),
		files:    make(map[string]store.File),
		contents: make(map[string]store.FileContent),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) CreateUser(_ context.Context, username, email, passwordHash, verifyTokenHash string, _ time.Time) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, taken := f.byEmail[email]; taken {
		return store.User{}, store.ErrDuplicate
	}
	user := store.User{
		ID:           f.id("u"),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Theme:        "dark",
		FontSize:     14,
	}
	f.users[user.ID] = user
	f.byEmail[email] = user.ID
	f.verify[verifyTokenHash] = user.ID
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.users[id], nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) VerifyEmail(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.verify[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	delete(f.verify, tokenHash)
	user := f.users[id]
	user.EmailVerified = true
	f.users[id] = user
	return user, nil
}

func (f *fakeStore) SetResetToken(_ context.Context, userID, tokenHash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset[tokenHash] = userID
	return nil
}

func (f *fakeStore) ResetPassword(_ context.Context, tokenHash, newPasswordHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.reset[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	delete(f.reset, tokenHash)
	user := f.users[id]
	user.PasswordHash = newPasswordHash
	f.users[id] = user
	return user, nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, userID, theme string, fontSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.Theme = theme
	user.FontSize = fontSize
	f.users[userID] = user
	return nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return f.users[id], nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) siblingTaken(name string, parentID *string, skipID string) bool {
	key := name + "|" + keyPtr(parentID)
	for id, folder := range f.folders {
		if id != skipID && folder.Name+"|"+keyPtr(folder.ParentID) == key {
			return true
		}
	}
	for id, file := range f.files {
		if id != skipID && file.Name+"|"+keyPtr(file.ParentID) == key {
			return true
		}
	}
	return false
}

func keyPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (f *fakeStore) CreateFolder(_ context.Context, name string, parentID, ownerID *string) (store.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.siblingTaken(name, parentID, "") {
		return store.Folder{}, store.ErrDuplicate
	}
	folder := store.Folder{ID: f.id("fld"), Name: name, ParentID: parentID, OwnerID: ownerID}
	f.folders[folder.ID] = folder
	return folder, nil
}

func (f *fakeStore) GetFolder(_ context.Context, folderID string) (store.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[folderID]
	if !ok {
		return store.Folder{}, store.ErrNotFound
	}
	return folder, nil
}

func (f *fakeStore) RenameFolder(_ context.Context, folderID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	folder, ok := f.folders[folderID]
	if !ok {
		return store.ErrNotFound
	}
	if f.siblingTaken(name, folder.ParentID, folderID) {
		return store.ErrDuplicate
	}
	folder.Name = name
	f.folders[folderID] = folder
	return nil
}

func (f *fakeStore) DeleteFolder(_ context.Context, folderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.folders[folderID]; !ok {
		return store.ErrNotFound
	}
	delete(f.folders, folderID)
	return nil
}

func (f *fakeStore) CreateFile(_ context.Context, name string, parentID, ownerID *string, language, content string) (store.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.siblingTaken(name, parentID, "") {
		return store.File{}, store.ErrDuplicate
	}
	file := store.File{ID: f.id("f"), Name: name, ParentID: parentID, OwnerID: ownerID, Language: language}
	f.files[file.ID] = file
	f.contents[file.ID] = store.FileContent{FileID: file.ID, Content: content, Version: 1}
	return file, nil
}

func (f *fakeStore) GetFile(_ context.Context, fileID string) (store.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[fileID]
	if !ok {
		return store.File{}, store.ErrNotFound
	}
	return file, nil
}

func (f *fakeStore) RenameFile(_ context.Context, fileID, name, language string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[fileID]
	if !ok {
		return store.ErrNotFound
	}
	if f.siblingTaken(name, file.ParentID, fileID) {
		return store.ErrDuplicate
	}
	file.Name = name
	file.Language = language
	f.files[fileID] = file
	return nil
}

func (f *fakeStore) DeleteFile(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[fileID]; !ok {
		return store.ErrNotFound
	}
	delete(f.files, fileID)
	delete(f.contents, fileID)
	return nil
}

func (f *fakeStore) ListTree(_ context.Context) ([]store.TreeNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var nodes []store.TreeNode
	for _, folder := range f.folders {
		if folder.ParentID == nil {
			nodes = append(nodes, f.nodeForFolder(folder))
		}
	}
	for _, file := range f.files {
		if file.ParentID == nil {
			nodes = append(nodes, store.TreeNode{Kind: "file", ID: file.ID, Name: file.Name, Language: file.Language})
		}
	}
	return nodes, nil
}

func (f *fakeStore) nodeForFolder(folder store.Folder) store.TreeNode {
	node := store.TreeNode{Kind: "folder", ID: folder.ID, Name: folder.Name, ParentID: folder.ParentID}
	for _, file := range f.files {
		if file.ParentID != nil && *file.ParentID == folder.ID {
			node.Children = append(node.Children, store.TreeNode{
				Kind: "file", ID: file.ID, Name: file.Name, ParentID: file.ParentID, Language: file.Language,
			})
		}
	}
	return node
}

func (f *fakeStore) GetFileContent(_ context.Context, fileID string) (store.FileContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.contents[fileID]
	if !ok {
		return store.FileContent{}, store.ErrNotFound
	}
	return content, nil
}

func (f *fakeStore) UpdateFileContent(_ context.Context, fileID, content string, baseVersion int64, userID *string) (store.FileContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.contents[fileID]
	if !ok {
		return store.FileContent{}, store.ErrNotFound
	}
	if current.Version != baseVersion {
		return store.FileContent{}, store.ErrVersionConflict
	}
	current.Content = content
	current.Version++
	current.LastModifiedBy = userID
	f.contents[fileID] = current
	return current, nil
}

func (f *fakeStore) ListFileRecords(_ context.Context) ([]store.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var records []store.FileRecord
	for id, file := range f.files {
		content := f.contents[id]
		records = append(records, store.FileRecord{
			ID:       id,
			Name:     file.Name,
			Path:     file.Name,
			Language: file.Language,
			Content:  content.Content,
			Version:  content.Version,
		})
	}
	return records, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeHistory struct {
	mu      sync.Mutex
	commits map[string][]history.CommitInfo
	content map[string]string // fileID+hash -> content
	removed []string
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{
		commits: make(map[string][]history.CommitInfo),
		content: make(map[string]string),
	}
}

func (h *fakeHistory) CommitSnapshot(fileID, content string, version int64, author string) (history.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info := history.CommitInfo{
		Hash:    fmt.Sprintf("hash-%s-%d", fileID, version),
		Message: fmt.Sprintf("Snapshot v%d", version),
		Author:  author,
		When:    time.Now(),
	}
	h.commits[fileID] = append([]history.CommitInfo{info}, h.commits[fileID]...)
	h.content[fileID+"|"+info.Hash] = content
	return info, nil
}

func (h *fakeHistory) History(fileID string, limit int) ([]history.CommitInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	commits := h.commits[fileID]
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

func (h *fakeHistory) GetByHash(fileID, hash string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	content, ok := h.content[fileID+"|"+hash]
	if !ok {
		return "", errors.New("unknown hash")
	}
	return content, nil
}

func (h *fakeHistory) Remove(fileID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, fileID)
	delete(h.commits, fileID)
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.FileDocument
	deleted []string
	results []search.Result
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{indexed: make(map[string]search.FileDocument)}
}

func (s *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: s.results, Total: len(s.results), Query: q.Text}
}

func (s *fakeSearch) IndexFile(doc search.FileDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[doc.ID] = doc
}

func (s *fakeSearch) DeleteFile(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexed, id)
	s.deleted = append(s.deleted, id)
}

type fakeEmail struct {
	configured    bool
	verifications []string // recipient addresses
	resets        []string
}

func (e *fakeEmail) IsConfigured() bool { return e.configured }

func (e *fakeEmail) SendVerificationEmail(to, _, _ string) error {
	e.verifications = append(e.verifications, to)
	return nil
}

func (e *fakeEmail) SendPasswordResetEmail(to, _, _ string) error {
	e.resets = append(e.resets, to)
	return nil
}

type testEnv struct {
	store   *fakeStore
	history *fakeHistory
	search  *fakeSearch
	email   *fakeEmail
	service *Service
}

func newTestEnv() *testEnv {
	fs := newFakeStore()
	fh := newFakeHistory()
	fsearch := newFakeSearch()
	femail := &fakeEmail{}
	cfg := config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		BaseURL:    "http://localhost:3000",
	}
	svc := &Service{
		cfg:      cfg,
		store:    fs,
		accounts: accounts.NewService(fs),
		history:  fh,
		search:   fsearch,
		archive:  archive.NewService(nil),
		email:    femail,
	}
	return &testEnv{store: fs, history: fh, search: fsearch, email: femail, service: svc}
}

func signUpVerified(t *testing.T, env *testEnv, username, email, password string) Session {
	t.Helper()
	ctx := context.Background()
	payload, err := env.service.SignUp(ctx, username, email, password)
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	token, _ := payload["devVerificationToken"].(string)
	if token == "" {
		t.Fatalf("expected dev verification token, got %v", payload)
	}
	if err := env.service.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	session, err := env.service.SignIn(ctx, email, password)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	return session
}

func TestSignUpWithoutSMTPReturnsDevToken(t *testing.T) {
	env := newTestEnv()
	payload, err := env.service.SignUp(context.Background(), "kai", "kai@example.com", "password123")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if payload["devVerificationToken"] == "" {
		t.Fatal("expected dev verification token when SMTP is not configured")
	}
	if len(env.email.verifications) != 0 {
		t.Fatalf("no email should be sent, got %v", env.email.verifications)
	}
}

func TestSignUpSendsVerificationEmailWhenConfigured(t *testing.T) {
	env := newTestEnv()
	env.email.configured = true

	payload, err := env.service.SignUp(context.Background(), "kai", "kai@example.com", "password123")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, leaked := payload["devVerificationToken"]; leaked {
		t.Fatal("token must not be returned when email is configured")
	}
	if len(env.email.verifications) != 1 || env.email.verifications[0] != "kai@example.com" {
		t.Fatalf("expected one verification email to kai@example.com, got %v", env.email.verifications)
	}
}

func TestSignInBlockedUntilEmailVerified(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	if _, err := env.service.SignUp(ctx, "kai", "kai@example.com", "password123"); err != nil {
		t.Fatalf("sign up: %v", err)
	}

	_, err := env.service.SignIn(ctx, "kai@example.com", "password123")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("expected EMAIL_NOT_VERIFIED, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")

	renewed, err := env.service.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if renewed.RefreshToken == session.RefreshToken {
		t.Fatal("refresh token should rotate")
	}

	if _, err := env.service.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("spent refresh token should be rejected")
	}
}

func TestSessionFromTokenRoundTrip(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")

	parsed, err := env.service.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if parsed.UserID != session.UserID || parsed.UserName != "kai" {
		t.Fatalf("unexpected session %+v", parsed)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv()
	signUpVerified(t, env, "kai", "kai@example.com", "password123")
	ctx := context.Background()

	payload, err := env.service.RequestPasswordReset(ctx, "kai@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token, _ := payload["devResetToken"].(string)
	if token == "" {
		t.Fatalf("expected dev reset token, got %v", payload)
	}

	if err := env.service.ResetPassword(ctx, token, "newpassword456"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, err := env.service.SignIn(ctx, "kai@example.com", "password123"); err == nil {
		t.Fatal("old password should no longer work")
	}
	if _, err := env.service.SignIn(ctx, "kai@example.com", "newpassword456"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestLanguageForFilename(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"main.go", "go"},
		{"app.jsx", "javascript"},
		{"server.TS", "typescript"},
		{"query.sql", "sql"},
		{"notes.md", "markdown"},
		{"style.css", "css"},
		{"script.py", "python"},
		{"Makefile", "plaintext"},
		{"archive.tar.gz", "plaintext"},
	}
	for _, tc := range cases {
		if got := LanguageForFilename(tc.name); got != tc.want {
			t.Errorf("LanguageForFilename(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestCreateFileDetectsLanguageAndIndexes(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")

	payload, err := env.service.CreateFile(context.Background(), "helpers.ts", nil, "export {}", session)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if payload["language"] != "typescript" {
		t.Fatalf("expected typescript, got %v", payload["language"])
	}

	fileID := payload["id"].(string)
	doc, ok := env.search.indexed[fileID]
	if !ok {
		t.Fatal("created file should be indexed")
	}
	if doc.Content != "export {}" {
		t.Fatalf("indexed content = %q", doc.Content)
	}
}

func TestSaveContentConflictReportsCurrentVersion(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")
	ctx := context.Background()

	created, err := env.service.CreateFile(ctx, "main.go", nil, "package main", session)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	fileID := created["id"].(string)

	if _, err := env.service.SaveContent(ctx, fileID, "package main // v2", 1, session); err != nil {
		t.Fatalf("first save: %v", err)
	}

	_, err = env.service.SaveContent(ctx, fileID, "stale write", 1, session)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VERSION_CONFLICT" {
		t.Fatalf("expected VERSION_CONFLICT, got %v", err)
	}
	details, _ := domainErr.Details.(map[string]any)
	if details["currentVersion"] != int64(2) {
		t.Fatalf("expected currentVersion 2 in details, got %v", domainErr.Details)
	}
}

func TestSaveContentRecordsHistoryAndSearch(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")
	ctx := context.Background()

	created, _ := env.service.CreateFile(ctx, "main.go", nil, "package main", session)
	fileID := created["id"].(string)

	if _, err := env.service.SaveContent(ctx, fileID, "package main // edited", 1, session); err != nil {
		t.Fatalf("save: %v", err)
	}

	commits, _ := env.history.History(fileID, 10)
	if len(commits) != 1 {
		t.Fatalf("expected one history commit, got %d", len(commits))
	}
	if !strings.Contains(commits[0].Message, "v2") {
		t.Fatalf("commit message should carry the new version, got %q", commits[0].Message)
	}
	if env.search.indexed[fileID].Content != "package main // edited" {
		t.Fatalf("search index not refreshed: %q", env.search.indexed[fileID].Content)
	}
}

func TestRestoreVersionWritesThroughContentPath(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")
	ctx := context.Background()

	created, _ := env.service.CreateFile(ctx, "main.go", nil, "original", session)
	fileID := created["id"].(string)

	first, err := env.service.SaveContent(ctx, fileID, "first edit", 1, session)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := env.service.SaveContent(ctx, fileID, "second edit", 2, session); err != nil {
		t.Fatalf("save: %v", err)
	}

	commits, _ := env.history.History(fileID, 10)
	hashOfFirst := ""
	for _, commit := range commits {
		if strings.Contains(commit.Message, fmt.Sprintf("v%d", first["version"].(int64))) {
			hashOfFirst = commit.Hash
		}
	}
	if hashOfFirst == "" {
		t.Fatal("could not locate first edit commit")
	}

	restored, err := env.service.RestoreVersion(ctx, fileID, hashOfFirst, session)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored["content"] != "first edit" {
		t.Fatalf("restored content = %v", restored["content"])
	}
	if restored["version"].(int64) != 4 {
		t.Fatalf("restore should advance the version, got %v", restored["version"])
	}
}

func TestDeleteFileCleansHistoryAndIndex(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")
	ctx := context.Background()

	created, _ := env.service.CreateFile(ctx, "main.go", nil, "package main", session)
	fileID := created["id"].(string)

	if err := env.service.DeleteFile(ctx, fileID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, indexed := env.search.indexed[fileID]; indexed {
		t.Fatal("deleted file should be dropped from the search index")
	}
	if len(env.history.removed) != 1 || env.history.removed[0] != fileID {
		t.Fatalf("deleted file history not removed: %v", env.history.removed)
	}
}

func TestFlushedSnapshotFeedsHistoryAndSearch(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")

	created, _ := env.service.CreateFile(context.Background(), "main.go", nil, "package main", session)
	fileID := created["id"].(string)

	env.service.RecordFlushedSnapshot(fileID, "package main // live", 7)

	commits, _ := env.history.History(fileID, 10)
	if len(commits) != 1 || !strings.Contains(commits[0].Message, "v7") {
		t.Fatalf("flush should commit snapshot v7, got %v", commits)
	}
	if env.search.indexed[fileID].Content != "package main // live" {
		t.Fatalf("flush should reindex content, got %q", env.search.indexed[fileID].Content)
	}
}

func TestDuplicateSiblingNameRejected(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")
	ctx := context.Background()

	if _, err := env.service.CreateFile(ctx, "main.go", nil, "", session); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := env.service.CreateFile(ctx, "main.go", nil, "", session)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestExportArchivePacksWorkspaceFiles(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")
	ctx := context.Background()

	if _, err := env.service.CreateFile(ctx, "main.go", nil, "package main", session); err != nil {
		t.Fatalf("create: %v", err)
	}

	export, err := env.service.ExportArchive(ctx, session)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(export.Data) == 0 {
		t.Fatal("expected archive bytes")
	}
	if !strings.HasSuffix(export.Filename, ".zip") {
		t.Fatalf("unexpected filename %q", export.Filename)
	}
	if export.DownloadURL != "" {
		t.Fatal("no object store configured, download URL should be empty")
	}
}

func TestUpdateProfileValidatesInput(t *testing.T) {
	env := newTestEnv()
	session := signUpVerified(t, env, "kai", "kai@example.com", "password123")
	ctx := context.Background()

	if _, err := env.service.UpdateProfile(ctx, session.UserID, "neon", 14); err == nil {
		t.Fatal("unknown theme should be rejected")
	}
	if _, err := env.service.UpdateProfile(ctx, session.UserID, "light", 99); err == nil {
		t.Fatal("out-of-range font size should be rejected")
	}

	payload, err := env.service.UpdateProfile(ctx, session.UserID, "light", 16)
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if payload["theme"] != "light" || payload["fontSize"] != 16 {
		t.Fatalf("unexpected payload %v", payload)
	}

	profile, err := env.service.Profile(ctx, session.UserID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile["theme"] != "light" || profile["fontSize"] != 16 {
		t.Fatalf("profile not persisted: %v", profile)
	}
}

var _ presenceStore = (*presence.RedisStore)(nil)

func TestPresenceHandlesNilStore(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if err := env.service.PresenceHeartbeat(ctx, "u-1"); err != nil {
		t.Fatalf("heartbeat without presence store: %v", err)
	}
	online, err := env.service.OnlineUsers(ctx)
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if ids := online["online"].([]string); len(ids) != 0 {
		t.Fatalf("expected empty online list, got %v", ids)
	}
	participants, err := env.service.FileParticipants(ctx, "f-1")
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if list := participants["participants"].([]presence.FileParticipant); len(list) != 0 {
		t.Fatalf("expected no participants, got %v", list)
	}
}
