// Package service implements the document operations on notebook files:
// reading, listing, creating, inspecting and editing cells. Every edit loads
// the file, applies one change and saves it (with the store's backup).
package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nstogner/nbtool/pkg/notebook"
)

// ErrInvalidArgument reports a request that cannot be served as given.
var ErrInvalidArgument = errors.New("invalid argument")

// Service runs document operations against a Store.
type Service struct {
	store *notebook.Store
	clock clockwork.Clock
}

type Option func(*Service)

// WithClock sets the clock used for reported timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func New(store *notebook.Store, opts ...Option) *Service {
	s := &Service{store: store, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Store returns the underlying document store.
func (s *Service) Store() *notebook.Store { return s.store }

// CellView is the read-side shape of a cell.
type CellView struct {
	Index          int               `json:"index"`
	ID             string            `json:"id,omitempty"`
	CellType       notebook.CellType `json:"cell_type"`
	Source         string            `json:"source"`
	Metadata       map[string]any    `json:"metadata"`
	ExecutionCount *int              `json:"execution_count,omitempty"`
	Outputs        []string          `json:"outputs,omitempty"`
}

func viewCell(i int, c *notebook.Cell) CellView {
	v := CellView{Index: i, ID: c.ID, CellType: c.Type, Source: c.Source, Metadata: c.Metadata}
	if v.Metadata == nil {
		v.Metadata = map[string]any{}
	}
	if c.Type == notebook.CellCode {
		v.ExecutionCount = c.ExecutionCount
		v.Outputs = c.Summaries()
	}
	return v
}

// Document is the result of Read.
type Document struct {
	Path          string         `json:"notebook_path"`
	Metadata      map[string]any `json:"metadata"`
	Nbformat      int            `json:"nbformat"`
	NbformatMinor int            `json:"nbformat_minor"`
	CellsCount    int            `json:"cells_count"`
	Cells         []CellView     `json:"cells"`
}

// Read returns the whole document with output summaries.
func (s *Service) Read(path string) (*Document, error) {
	nb, err := s.store.Load(path)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		Path:          path,
		Metadata:      nb.Metadata,
		Nbformat:      nb.Nbformat,
		NbformatMinor: nb.NbformatMinor,
		CellsCount:    nb.Len(),
		Cells:         make([]CellView, 0, nb.Len()),
	}
	for i, c := range nb.Cells {
		doc.Cells = append(doc.Cells, viewCell(i, c))
	}
	return doc, nil
}

// Entry describes one notebook found by List.
type Entry struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Modified   time.Time `json:"modified"`
	CellsCount int       `json:"cells_count"`
	Title      string    `json:"title"`
}

// Listing is the result of List.
type Listing struct {
	Directory string  `json:"directory"`
	Notebooks []Entry `json:"notebooks"`
}

// List returns the readable .ipynb files directly inside dir, sorted by
// name. Files that fail to load are skipped.
func (s *Service) List(dir string) (*Listing, error) {
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	res := &Listing{Directory: dir, Notebooks: []Entry{}}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".ipynb" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		nb, err := s.store.Load(path)
		if err != nil {
			continue
		}
		res.Notebooks = append(res.Notebooks, Entry{
			Path:       path,
			Name:       e.Name(),
			Size:       info.Size(),
			Modified:   info.ModTime(),
			CellsCount: nb.Len(),
			Title:      nb.Title(),
		})
	}
	sort.Slice(res.Notebooks, func(i, j int) bool { return res.Notebooks[i].Name < res.Notebooks[j].Name })
	return res, nil
}

// Created is the result of Create.
type Created struct {
	Path       string `json:"notebook_path"`
	Title      string `json:"title"`
	CellsCount int    `json:"cells_count"`
	BackupPath string `json:"backup_path,omitempty"`
}

// Create writes a new notebook with a title heading and an empty code cell.
// An existing file at path is backed up before being replaced.
func (s *Service) Create(path, title string) (*Created, error) {
	if title == "" {
		title = "New Notebook"
	}
	nb := notebook.New(title)
	nb.Cells = append(nb.Cells,
		nb.NewCell(notebook.CellMarkdown, "# "+title),
		nb.NewCell(notebook.CellCode, ""),
	)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %w", notebook.ErrPersistence, dir, err)
		}
	}
	backup, err := s.store.Save(nb, path)
	if err != nil {
		return nil, err
	}
	return &Created{Path: path, Title: title, CellsCount: nb.Len(), BackupPath: backup}, nil
}

// BackupInfo is the result of Backup.
type BackupInfo struct {
	OriginalPath string    `json:"original_path"`
	BackupPath   string    `json:"backup_path"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Service) Backup(path string) (*BackupInfo, error) {
	backup, err := s.store.Backup(path)
	if err != nil {
		return nil, err
	}
	return &BackupInfo{OriginalPath: path, BackupPath: backup, Timestamp: s.clock.Now()}, nil
}

// Stats is the result of Metadata.
type Stats struct {
	Path             string         `json:"notebook_path"`
	FileSize         int64          `json:"file_size"`
	LastModified     time.Time      `json:"last_modified"`
	NbformatVersion  string         `json:"nbformat_version"`
	Metadata         map[string]any `json:"metadata"`
	TotalCells       int            `json:"total_cells"`
	CellCounts       map[string]int `json:"cell_counts"`
	ExecutedCells    int            `json:"executed_cells"`
	CellsWithOutputs int            `json:"cells_with_outputs"`
	KernelSpec       map[string]any `json:"kernel_spec"`
	Title            string         `json:"title,omitempty"`
}

// Metadata summarizes a document: file info, per-type counts and execution state.
func (s *Service) Metadata(path string) (*Stats, error) {
	nb, err := s.store.Load(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notebook.ErrDocumentLoad, err)
	}

	st := &Stats{
		Path:            path,
		FileSize:        info.Size(),
		LastModified:    info.ModTime(),
		NbformatVersion: fmt.Sprintf("%d.%d", nb.Nbformat, nb.NbformatMinor),
		Metadata:        nb.Metadata,
		TotalCells:      nb.Len(),
		CellCounts: map[string]int{
			string(notebook.CellCode):     0,
			string(notebook.CellMarkdown): 0,
			string(notebook.CellRaw):      0,
		},
		KernelSpec: map[string]any{},
		Title:      nb.Title(),
	}
	if ks, ok := nb.Metadata["kernelspec"].(map[string]any); ok {
		st.KernelSpec = ks
	}
	for _, c := range nb.Cells {
		st.CellCounts[string(c.Type)]++
		if c.Type != notebook.CellCode {
			continue
		}
		if c.ExecutionCount != nil {
			st.ExecutedCells++
		}
		if len(c.Outputs) > 0 {
			st.CellsWithOutputs++
		}
	}
	return st, nil
}

// LineMatch is one matching line within a cell.
type LineMatch struct {
	LineNumber int    `json:"line_number"`
	Content    string `json:"content"`
}

// Match is a cell containing the search term.
type Match struct {
	CellIndex     int               `json:"cell_index"`
	CellType      notebook.CellType `json:"cell_type"`
	MatchingLines []LineMatch       `json:"matching_lines"`
}

// SearchResult is the result of Search.
type SearchResult struct {
	Path         string  `json:"notebook_path"`
	SearchTerm   string  `json:"search_term"`
	MatchesFound int     `json:"matches_found"`
	Matches      []Match `json:"matches"`
}

// Search finds cells whose source contains term. Line numbers are 1-based
// and line content is trimmed.
func (s *Service) Search(path, term string, caseSensitive bool) (*SearchResult, error) {
	if term == "" {
		return nil, fmt.Errorf("%w: empty search term", ErrInvalidArgument)
	}
	nb, err := s.store.Load(path)
	if err != nil {
		return nil, err
	}
	needle := term
	if !caseSensitive {
		needle = strings.ToLower(term)
	}

	res := &SearchResult{Path: path, SearchTerm: term, Matches: []Match{}}
	for i, c := range nb.Cells {
		var lines []LineMatch
		for n, line := range strings.Split(c.Source, "\n") {
			hay := line
			if !caseSensitive {
				hay = strings.ToLower(line)
			}
			if strings.Contains(hay, needle) {
				lines = append(lines, LineMatch{LineNumber: n + 1, Content: strings.TrimSpace(line)})
			}
		}
		if len(lines) > 0 {
			res.Matches = append(res.Matches, Match{CellIndex: i, CellType: c.Type, MatchingLines: lines})
		}
	}
	res.MatchesFound = len(res.Matches)
	return res, nil
}
