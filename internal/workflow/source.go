package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Entry is one template document a Source can provide
type Entry struct {
	Name     string // job type, the file stem
	Location string // source-specific address (path, object key)
	Format   Format
}

// Source lists and reads template documents
type Source interface {
	// Describe names the source in logs, e.g. "dir:workflows"
	Describe() string
	// List returns entries sorted by location
	List(ctx context.Context) ([]Entry, error)
	Read(ctx context.Context, location string) ([]byte, error)
}

// DirSource serves templates from a directory (non-recursive)
type DirSource struct {
	Dir string
}

// NewDirSource creates a directory source
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

func (s *DirSource) Describe() string {
	return "dir:" + s.Dir
}

// List scans Dir for .json/.yaml/.yml files
func (s *DirSource) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("templates directory not found: %s", s.Dir)
		}
		return nil, fmt.Errorf("read templates directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		format, ok := FormatFromName(de.Name())
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Name:     StemOf(de.Name()),
			Location: filepath.Join(s.Dir, de.Name()),
			Format:   format,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Location < entries[j].Location })
	return entries, nil
}

// Read loads a file after checking it stays inside Dir
func (s *DirSource) Read(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolved, err := ValidatePath(location, s.Dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}
	return data, nil
}

// StaticSource serves a fixed in-memory name -> document mapping
type StaticSource struct {
	Label     string
	Documents map[string][]byte // key is a file name, e.g. "square.json"
}

func (s *StaticSource) Describe() string {
	if s.Label != "" {
		return "static:" + s.Label
	}
	return "static"
}

func (s *StaticSource) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	for name := range s.Documents {
		format, ok := FormatFromName(name)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Name: StemOf(name), Location: name, Format: format})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Location < entries[j].Location })
	return entries, nil
}

func (s *StaticSource) Read(ctx context.Context, location string) ([]byte, error) {
	data, ok := s.Documents[location]
	if !ok {
		return nil, fmt.Errorf("no document %q", location)
	}
	return data, nil
}
