package search

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codepad/api/internal/store"
)

// These tests exercise the Postgres full-text fallback against a real
// database. They skip unless CODEPAD_TEST_DATABASE_URL is set.

func openTestFTS(t *testing.T) (*PgFTS, *store.PostgresStore) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CODEPAD_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CODEPAD_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := store.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := store.ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPgFTS(db), store.NewPostgresStore(db)
}

func TestPgFTSMatchesStemmableTerms(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	fts, s := openTestFTS(t)
	ctx := context.Background()

	file, err := s.CreateFile(ctx, "lexer.go", nil, nil, "go", "")
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if _, err := s.UpdateFileContent(ctx, file.ID, "func parsing(tokens []Token) error { return nil }", 1, nil); err != nil {
		t.Fatalf("write content: %v", err)
	}

	// "parsing" stems to "pars" under the english configuration; the
	// generated vectors store the verbatim token, so query and vector must
	// agree on the simple configuration for this to hit.
	results, total, err := fts.Search(Query{Text: "parsing"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("expected exactly one hit, got total=%d results=%+v", total, results)
	}
	if results[0].FileID != file.ID {
		t.Fatalf("expected %s, got %+v", file.ID, results[0])
	}
	if !strings.Contains(results[0].Snippet, "parsing") {
		t.Fatalf("snippet must carry the matched term, got %q", results[0].Snippet)
	}
}

func TestPgFTSDeduplicatesNameAndContentHits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	fts, s := openTestFTS(t)
	ctx := context.Background()

	file, err := s.CreateFile(ctx, "routes.js", nil, nil, "javascript", "")
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	if _, err := s.UpdateFileContent(ctx, file.ID, "const routes = []", 1, nil); err != nil {
		t.Fatalf("write content: %v", err)
	}

	// Matches on both the name and the content; must be reported once.
	results, total, err := fts.Search(Query{Text: "routes"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("expected one deduplicated hit, got total=%d results=%+v", total, results)
	}

	// The language filter must exclude non-matching files.
	results, total, err = fts.Search(Query{Text: "routes", FilterLanguage: "python"})
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	if total != 0 || len(results) != 0 {
		t.Fatalf("expected no hits for the wrong language, got total=%d results=%+v", total, results)
	}
}
