package history

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yourusername/media-forge/internal/artifacts"
)

// ErrAccessDenied は出力ルートの外を参照しようとしたことを示します。
var ErrAccessDenied = errors.New("access denied")

// Entry はディレクトリ一覧の1項目です。
type Entry struct {
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Path       string    `json:"path"`
	URL        *string   `json:"url"`
	Size       *int64    `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Listing は出力ディレクトリの一覧です。
type Listing struct {
	Directory string  `json:"directory"`
	Parent    *string `json:"parent"`
	Items     []Entry `json:"items"`
}

// Browser は出力ルート配下のディレクトリを一覧します。
type Browser struct {
	root     string
	resolver *artifacts.Resolver
}

// NewBrowser は Browser を作成します。
func NewBrowser(root string, resolver *artifacts.Resolver) (*Browser, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output root: %w", err)
	}
	return &Browser{root: abs, resolver: resolver}, nil
}

// List は directory（出力ルートからの相対パス）の中身を名前順に返します。
func (b *Browser) List(directory string) (*Listing, error) {
	rel, full, err := b.resolve(directory)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("directory %q: %w", rel, ErrNotFound)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory: %w", rel, ErrNotFound)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	listing := &Listing{Directory: rel, Items: make([]Entry, 0, len(entries))}
	if rel != "" {
		parent := path.Dir(rel)
		if parent == "." {
			parent = ""
		}
		listing.Parent = &parent
	}

	for _, e := range entries {
		itemPath := path.Join(rel, e.Name())
		entry := Entry{Name: e.Name(), Type: "directory", Path: itemPath}
		if fi, err := e.Info(); err == nil {
			entry.ModifiedAt = fi.ModTime()
			if !e.IsDir() {
				size := fi.Size()
				entry.Size = &size
			}
		}
		if !e.IsDir() {
			entry.Type = "file"
			u := b.resolver.FileURL(filepath.Join(full, e.Name()))
			entry.URL = &u
		}
		listing.Items = append(listing.Items, entry)
	}
	return listing, nil
}

// resolve は相対パスを検証し、出力ルートからの相対パスと絶対パスを返します。
func (b *Browser) resolve(directory string) (string, string, error) {
	directory = strings.Trim(strings.ReplaceAll(directory, "\\", "/"), "/")
	full := filepath.Join(b.root, filepath.FromSlash(directory))
	rel, err := filepath.Rel(b.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("directory %q: %w", directory, ErrAccessDenied)
	}
	if rel == "." {
		rel = ""
	}
	return filepath.ToSlash(rel), full, nil
}
