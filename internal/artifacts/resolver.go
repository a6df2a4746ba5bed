// Package artifacts は成果物の保存パスを外部から参照できる URL に変換します。
package artifacts

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/media-forge/internal/storage"
)

const (
	filesMount  = "/files"
	browseMount = "/api/browse"
)

// Location は成果物1件の参照情報です。
type Location struct {
	ID          int64     `json:"id"`
	JobID       int64     `json:"job_id"`
	FramePath   string    `json:"frame_path"`
	FrameNumber int       `json:"frame_number"`
	Timestamp   float64   `json:"timestamp"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url"`
	FileName    string    `json:"fileName"`
	Directory   string    `json:"directory"`
}

// Resolver は出力ルートとベースURLから URL を組み立てます。副作用はありません。
type Resolver struct {
	baseURL    string
	outputRoot string
}

// NewResolver は Resolver を作成します。outputRoot 配下のパスは相対パスとして URL 化されます。
func NewResolver(baseURL, outputRoot string) *Resolver {
	root := outputRoot
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	return &Resolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		outputRoot: root,
	}
}

// Resolve は成果物の参照情報を返します。成果物がない場合は ok=false です。
func (r *Resolver) Resolve(outputLocation string, a *storage.Artifact) (Location, bool) {
	if a == nil || a.Path == "" {
		return Location{}, false
	}
	rel := r.relative(a.Path, outputLocation)
	return Location{
		ID:          a.ID,
		JobID:       a.JobID,
		FramePath:   a.Path,
		FrameNumber: a.Ordinal,
		Timestamp:   a.Timestamp,
		CreatedAt:   a.CreatedAt,
		URL:         r.join(filesMount, rel),
		FileName:    path.Base(rel),
		Directory:   path.Dir(rel),
	}, true
}

// ResolveAll は成果物を順序を保ったまま変換します。変換できないものは飛ばします。
func (r *Resolver) ResolveAll(outputLocation string, list []*storage.Artifact) []Location {
	locations := make([]Location, 0, len(list))
	for _, a := range list {
		if loc, ok := r.Resolve(outputLocation, a); ok {
			locations = append(locations, loc)
		}
	}
	return locations
}

// FileURL は出力ルート配下の任意のファイルの URL を返します。
func (r *Resolver) FileURL(p string) string {
	if p == "" {
		return ""
	}
	return r.join(filesMount, r.relative(p, ""))
}

// DirectoryURL は出力ディレクトリのファイル配信 URL を返します。
func (r *Resolver) DirectoryURL(outputLocation string) string {
	if dir := r.directoryName(outputLocation); dir != "" {
		return r.join(filesMount, dir)
	}
	return ""
}

// BrowseURL は出力ディレクトリの一覧 API の URL を返します。
func (r *Resolver) BrowseURL(outputLocation string) string {
	if dir := r.directoryName(outputLocation); dir != "" {
		return r.join(browseMount, dir)
	}
	return ""
}

func (r *Resolver) directoryName(outputLocation string) string {
	if outputLocation == "" {
		return ""
	}
	if rel, ok := r.underRoot(outputLocation); ok && rel != "." {
		return rel
	}
	return filepath.Base(filepath.Clean(outputLocation))
}

// relative は出力ルートからの相対パス（スラッシュ区切り）を返します。
// ルート外のパスは「出力ディレクトリ名/ファイル名」として扱う。
func (r *Resolver) relative(p, outputLocation string) string {
	if rel, ok := r.underRoot(p); ok {
		return rel
	}
	dir := filepath.Base(filepath.Dir(p))
	if dir == "." || dir == string(filepath.Separator) {
		dir = r.directoryName(outputLocation)
	}
	if dir == "" {
		return filepath.Base(p)
	}
	return dir + "/" + filepath.Base(p)
}

func (r *Resolver) underRoot(p string) (string, bool) {
	if r.outputRoot == "" {
		return "", false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(r.outputRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (r *Resolver) join(mount, rel string) string {
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.baseURL + mount + "/" + strings.Join(segments, "/")
}
