package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches file names and file contents using plainto_tsquery and
// ts_rank, with ts_headline for snippets. The 'simple' configuration is
// used throughout to match the generated tsvector columns — code
// identifiers must match verbatim, not through English stemming. A file
// that matches on both name and content is reported once, keeping the
// higher-ranked row.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text}

	langFilter := ""
	if q.FilterLanguage != "" {
		langFilter = " AND f.language = $2"
		args = append(args, q.FilterLanguage)
	}

	nameSub := fmt.Sprintf(`
		SELECT f.id, f.name, f.language,
			ts_headline('simple', f.name, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(f.fts, %s) AS rank
		FROM files f
		WHERE f.fts @@ %s%s`, tsQuery, tsQuery, tsQuery, langFilter)

	contentSub := fmt.Sprintf(`
		SELECT f.id, f.name, f.language,
			ts_headline('simple', left(fc.content, 200000), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(fc.fts, %s) AS rank
		FROM file_contents fc
		JOIN files f ON f.id = fc.file_id
		WHERE fc.fts @@ %s%s`, tsQuery, tsQuery, tsQuery, langFilter)

	union := nameSub + " UNION ALL " + contentSub

	dedup := fmt.Sprintf(`
		SELECT DISTINCT ON (id) id, name, language, snippet, rank
		FROM (%s) hits
		ORDER BY id, rank DESC`, union)

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", dedup)

	dataSQL := fmt.Sprintf(`SELECT id, name, language, snippet
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, dedup, limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.FileID, &r.Name, &r.Language, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Path = r.Name
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllFileDocuments returns every file with its content for full reindexing.
func (p *PgFTS) LoadAllFileDocuments(ctx context.Context) ([]FileDocument, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.language, coalesce(fc.content, '')
		FROM files f
		LEFT JOIN file_contents fc ON fc.file_id = f.id
	`)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	defer rows.Close()

	docs := make([]FileDocument, 0)
	for rows.Next() {
		var d FileDocument
		if err := rows.Scan(&d.ID, &d.Name, &d.Language, &d.Content); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		d.Path = d.Name
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}

	return docs, nil
}
