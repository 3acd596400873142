package search

// Result is a single file hit returned to the caller. Snippet is a
// highlighted fragment of either the file name or its content.
type Result struct {
	FileID   string `json:"fileId"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Snippet  string `json:"snippet"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterLanguage string // empty = all languages
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over the workspace files.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push files into a search index.
type Indexer interface {
	IndexFile(f FileDocument) error
	DeleteFile(id string) error
}

// FileDocument is the data we index per file: the tree entry plus content.
type FileDocument struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Content  string `json:"content"`
}
