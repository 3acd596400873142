package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// File is one entry to include in a workspace archive. Path is relative,
// slash-separated, e.g. "src/utils/helpers.js".
type File struct {
	Path    string
	Content string
}

// BuildZip packs the given files into a zip archive rooted at workspaceName.
// Entries are written in path order so identical workspaces produce
// byte-comparable archives.
func BuildZip(workspaceName string, files []File) ([]byte, error) {
	root := sanitizeSegment(workspaceName)
	if root == "" {
		root = "workspace"
	}

	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	now := time.Now()

	seen := make(map[string]struct{}, len(sorted))
	for _, f := range sorted {
		name := sanitizePath(f.Path)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		hdr := &zip.FileHeader{
			Name:     root + "/" + name,
			Method:   zip.Deflate,
			Modified: now,
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("create zip entry %s: %w", name, err)
		}
		if _, err := w.Write([]byte(f.Content)); err != nil {
			return nil, fmt.Errorf("write zip entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}

// sanitizePath normalizes an entry path: slash-cleaned, relative, no
// traversal segments.
func sanitizePath(p string) string {
	cleaned := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return ""
	}
	return cleaned
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, s)
	return strings.Trim(s, ". ")
}
