package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"codepad/api/internal/accounts"
	"codepad/api/internal/archive"
	"codepad/api/internal/auth"
	"codepad/api/internal/config"
	"codepad/api/internal/history"
	"codepad/api/internal/presence"
	"codepad/api/internal/search"
	"codepad/api/internal/store"
	"codepad/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserProfile(context.Context, string, string, int) error
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	CreateFolder(ctx context.Context, name string, parentID, ownerID *string) (store.Folder, error)
	GetFolder(context.Context, string) (store.Folder, error)
	RenameFolder(context.Context, string, string) error
	DeleteFolder(context.Context, string) error
	CreateFile(ctx context.Context, name string, parentID, ownerID *string, language, content string) (store.File, error)
	GetFile(context.Context, string) (store.File, error)
	RenameFile(context.Context, string, string, string) error
	DeleteFile(context.Context, string) error
	ListTree(context.Context) ([]store.TreeNode, error)
	GetFileContent(context.Context, string) (store.FileContent, error)
	UpdateFileContent(ctx context.Context, fileID, content string, baseVersion int64, userID *string) (store.FileContent, error)
	ListFileRecords(context.Context) ([]store.FileRecord, error)
	Ping(ctx context.Context) error
}

type historyService interface {
	CommitSnapshot(fileID, content string, version int64, author string) (history.CommitInfo, error)
	History(fileID string, limit int) ([]history.CommitInfo, error)
	GetByHash(fileID, hash string) (string, error)
	Remove(fileID string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexFile(doc search.FileDocument)
	DeleteFile(id string)
}

type presenceStore interface {
	Heartbeat(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
	OnlineUserIDs(ctx context.Context) ([]string, error)
	FileParticipants(ctx context.Context, fileID string) ([]presence.FileParticipant, error)
	Ping(ctx context.Context) error
}

type emailSender interface {
	IsConfigured() bool
	SendVerificationEmail(to, username, verificationURL string) error
	SendPasswordResetEmail(to, username, resetURL string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	accounts *accounts.Service
	history  historyService
	search   searchService
	presence presenceStore
	archive  *archive.Service
	email    emailSender
}

type Deps struct {
	Store    *store.PostgresStore
	Accounts *accounts.Service
	History  historyService
	Search   searchService
	Presence presenceStore
	Archive  *archive.Service
	Email    emailSender
}

func New(cfg config.Config, deps Deps) *Service {
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		accounts: deps.Accounts,
		history:  deps.History,
		search:   deps.Search,
		presence: deps.Presence,
		archive:  deps.Archive,
		email:    deps.Email,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PresencePing(ctx context.Context) error {
	if s.presence == nil {
		return nil
	}
	return s.presence.Ping(ctx)
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// ── Accounts and sessions ──

func (s *Service) SignUp(ctx context.Context, username, email, password string) (map[string]any, error) {
	result, err := s.accounts.SignUp(ctx, accounts.SignUpRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	response := map[string]any{
		"userId":  result.User.ID,
		"message": "Please check your email to verify your account",
	}

	if s.SMTPConfigured() {
		verifyURL := s.cfg.BaseURL + "/verify-email?token=" + result.VerificationToken
		if err := s.email.SendVerificationEmail(result.User.Email, result.User.Username, verifyURL); err != nil {
			log.Printf("signup: send verification email to %s: %v", result.User.Email, err)
		}
	} else {
		// Dev bypass when no SMTP is configured.
		response["devVerificationToken"] = result.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	return response, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	result, err := s.accounts.SignIn(ctx, strings.ToLower(strings.TrimSpace(email)), password)
	if err != nil {
		return Session{}, err
	}
	if result.RequiresVerify {
		return Session{}, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
	}
	return s.issueSession(ctx, result.User)
}

func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	_, err := s.accounts.VerifyEmail(ctx, token)
	return err
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) (map[string]any, error) {
	token, user, err := s.accounts.RequestPasswordReset(ctx, email)
	if err != nil {
		return nil, err
	}

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	if token == "" {
		return response, nil
	}

	if s.SMTPConfigured() {
		resetURL := s.cfg.BaseURL + "/reset-password?token=" + token
		if err := s.email.SendPasswordResetEmail(user.Email, user.Username, resetURL); err != nil {
			log.Printf("reset: send reset email to %s: %v", user.Email, err)
		}
	} else {
		response["devResetToken"] = token
	}
	return response, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	_, err := s.accounts.ResetPassword(ctx, token, newPassword)
	return err
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.store.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.store.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID, theme string, fontSize int) (map[string]any, error) {
	theme = strings.TrimSpace(theme)
	if theme != "dark" && theme != "light" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "theme must be 'dark' or 'light'", nil)
	}
	if fontSize < 8 || fontSize > 40 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fontSize must be between 8 and 40", nil)
	}
	if err := s.store.UpdateUserProfile(ctx, userID, theme, fontSize); err != nil {
		return nil, err
	}
	return map[string]any{"theme": theme, "fontSize": fontSize}, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"userId":   user.ID,
		"username": user.Username,
		"email":    user.Email,
		"theme":    user.Theme,
		"fontSize": user.FontSize,
	}, nil
}

// ── Workspace tree ──

func (s *Service) Tree(ctx context.Context) (map[string]any, error) {
	nodes, err := s.store.ListTree(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tree": nodes}, nil
}

func (s *Service) CreateFolder(ctx context.Context, name string, parentID *string, session Session) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	folder, err := s.store.CreateFolder(ctx, name, parentID, &session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       folder.ID,
		"name":     folder.Name,
		"parentId": folder.ParentID,
	}, nil
}

func (s *Service) RenameFolder(ctx context.Context, folderID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	return s.store.RenameFolder(ctx, folderID, name)
}

func (s *Service) DeleteFolder(ctx context.Context, folderID string) error {
	return s.store.DeleteFolder(ctx, folderID)
}

func (s *Service) CreateFile(ctx context.Context, name string, parentID *string, content string, session Session) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	language := LanguageForFilename(name)
	file, err := s.store.CreateFile(ctx, name, parentID, &session.UserID, language, content)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexFile(search.FileDocument{
			ID:       file.ID,
			Name:     file.Name,
			Path:     file.Name,
			Language: file.Language,
			Content:  content,
		})
	}

	return map[string]any{
		"id":       file.ID,
		"name":     file.Name,
		"parentId": file.ParentID,
		"language": file.Language,
	}, nil
}

func (s *Service) RenameFile(ctx context.Context, fileID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	language := LanguageForFilename(name)
	if err := s.store.RenameFile(ctx, fileID, name, language); err != nil {
		return nil, err
	}

	if s.search != nil {
		if content, err := s.store.GetFileContent(ctx, fileID); err == nil {
			s.search.IndexFile(search.FileDocument{
				ID:       fileID,
				Name:     name,
				Path:     name,
				Language: language,
				Content:  content.Content,
			})
		}
	}

	return map[string]any{"id": fileID, "name": name, "language": language}, nil
}

func (s *Service) DeleteFile(ctx context.Context, fileID string) error {
	if err := s.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteFile(fileID)
	}
	if s.history != nil {
		if err := s.history.Remove(fileID); err != nil {
			log.Printf("delete file %s: remove history: %v", fileID, err)
		}
	}
	return nil
}

func (s *Service) GetFileMeta(ctx context.Context, fileID string) (map[string]any, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        file.ID,
		"name":      file.Name,
		"parentId":  file.ParentID,
		"language":  file.Language,
		"sizeBytes": file.SizeBytes,
	}, nil
}

// ── File content (REST path, independent of live collaboration) ──

func (s *Service) GetContent(ctx context.Context, fileID string) (map[string]any, error) {
	content, err := s.store.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"fileId":  content.FileID,
		"content": content.Content,
		"version": content.Version,
	}, nil
}

// SaveContent is the REST write path. It bumps the stored version by one when
// baseVersion still matches, so live sessions editing the same file discover
// the outside write at their next flush and reconcile.
func (s *Service) SaveContent(ctx context.Context, fileID, content string, baseVersion int64, session Session) (map[string]any, error) {
	updated, err := s.store.UpdateFileContent(ctx, fileID, content, baseVersion, &session.UserID)
	if errors.Is(err, store.ErrVersionConflict) {
		current, lookupErr := s.store.GetFileContent(ctx, fileID)
		details := map[string]any{}
		if lookupErr == nil {
			details["currentVersion"] = current.Version
		}
		return nil, domainError(http.StatusConflict, "VERSION_CONFLICT", "File was modified by someone else", details)
	}
	if err != nil {
		return nil, err
	}

	s.recordSnapshot(ctx, fileID, updated.Content, updated.Version, session.UserName)

	return map[string]any{
		"fileId":  updated.FileID,
		"content": updated.Content,
		"version": updated.Version,
	}, nil
}

// RecordFlushedSnapshot feeds a collaboration flush into edit history and
// the search index. Wired as the engine's flush hook.
func (s *Service) RecordFlushedSnapshot(fileID, content string, version int64) {
	s.recordSnapshot(context.Background(), fileID, content, version, "collaboration")
}

func (s *Service) recordSnapshot(ctx context.Context, fileID, content string, version int64, author string) {
	if s.history != nil {
		if _, err := s.history.CommitSnapshot(fileID, content, version, author); err != nil {
			log.Printf("history commit %s v%d: %v", fileID, version, err)
		}
	}
	if s.search != nil {
		file, err := s.store.GetFile(ctx, fileID)
		if err != nil {
			return
		}
		s.search.IndexFile(search.FileDocument{
			ID:       file.ID,
			Name:     file.Name,
			Path:     file.Name,
			Language: file.Language,
			Content:  content,
		})
	}
}

// ── Edit history ──

func (s *Service) History(ctx context.Context, fileID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	commits, err := s.history.History(fileID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"fileId": fileID, "commits": commits}, nil
}

func (s *Service) HistoricContent(ctx context.Context, fileID, hash string) (map[string]any, error) {
	if _, err := s.store.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	content, err := s.history.GetByHash(fileID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
	}
	return map[string]any{"fileId": fileID, "hash": hash, "content": content}, nil
}

// RestoreVersion writes a historic snapshot back through the REST content
// path, so the restore participates in the same version gating as any other
// outside edit.
func (s *Service) RestoreVersion(ctx context.Context, fileID, hash string, session Session) (map[string]any, error) {
	content, err := s.history.GetByHash(fileID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
	}
	current, err := s.store.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return s.SaveContent(ctx, fileID, content, current.Version, session)
}

// ── Search ──

func (s *Service) Search(ctx context.Context, text, language string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:           text,
		FilterLanguage: language,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// ── Presence ──

func (s *Service) PresenceHeartbeat(ctx context.Context, userID string) error {
	if s.presence == nil {
		return nil
	}
	return s.presence.Heartbeat(ctx, userID)
}

func (s *Service) PresenceOffline(ctx context.Context, userID string) error {
	if s.presence == nil {
		return nil
	}
	return s.presence.MarkOffline(ctx, userID)
}

func (s *Service) OnlineUsers(ctx context.Context) (map[string]any, error) {
	if s.presence == nil {
		return map[string]any{"online": []string{}}, nil
	}
	ids, err := s.presence.OnlineUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return map[string]any{"online": ids}, nil
}

func (s *Service) FileParticipants(ctx context.Context, fileID string) (map[string]any, error) {
	if s.presence == nil {
		return map[string]any{"fileId": fileID, "participants": []presence.FileParticipant{}}, nil
	}
	participants, err := s.presence.FileParticipants(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if participants == nil {
		participants = []presence.FileParticipant{}
	}
	return map[string]any{"fileId": fileID, "participants": participants}, nil
}

// ── Workspace archive ──

func (s *Service) ExportArchive(ctx context.Context, session Session) (archive.Export, error) {
	records, err := s.store.ListFileRecords(ctx)
	if err != nil {
		return archive.Export{}, err
	}
	files := make([]archive.File, 0, len(records))
	for _, record := range records {
		files = append(files, archive.File{Path: record.Path, Content: record.Content})
	}
	name := fmt.Sprintf("%s-workspace", session.UserName)
	return s.archive.ExportWorkspace(ctx, name, files)
}

// ── Language detection ──

var languageByExtension = map[string]string{
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".java":  "java",
	".cpp":   "cpp",
	".cc":    "cpp",
	".c":     "c",
	".h":     "c",
	".css":   "css",
	".html":  "html",
	".json":  "json",
	".md":    "markdown",
	".sql":   "sql",
	".php":   "php",
	".rb":    "ruby",
	".go":    "go",
	".rs":    "rust",
	".swift": "swift",
	".kt":    "kotlin",
	".sh":    "shell",
	".yml":   "yaml",
	".yaml":  "yaml",
	".xml":   "xml",
}

// LanguageForFilename maps a file name to its editor language by extension.
func LanguageForFilename(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if lang, ok := languageByExtension[ext]; ok {
		return lang
	}
	return "plaintext"
}
