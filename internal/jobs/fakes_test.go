package jobs

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yourusername/media-forge/internal/artifacts"
	"github.com/yourusername/media-forge/internal/media"
	"github.com/yourusername/media-forge/internal/storage"
)

// fakeTool は出力ファイルを逆順に作って返す処理ツールです（マネージャー側の並べ替えを確認するため）。
type fakeTool struct {
	mu        sync.Mutex
	probe     *media.ProbeResult
	probeErr  error
	image     *media.ImageInfo
	execErr   error
	// partial は execErr を返す前に書き出すフレーム数です。
	partial   int
	panicMsg  string
	execCalls []media.Params
}

func (f *fakeTool) Probe(ctx context.Context, input string) (*media.ProbeResult, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeTool) InspectImage(ctx context.Context, input string) (*media.ImageInfo, error) {
	if f.image == nil {
		return nil, &media.ToolError{Tool: "image", Message: "unsupported or corrupt image"}
	}
	return f.image, nil
}

func (f *fakeTool) Execute(ctx context.Context, input string, params media.Params, outDir string, progress media.ProgressReporter) (*media.Output, error) {
	f.mu.Lock()
	f.execCalls = append(f.execCalls, params)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.execErr != nil {
		for i := 1; i <= f.partial; i++ {
			if err := os.WriteFile(filepath.Join(outDir, media.FrameFilename(i)), []byte("out"), 0o644); err != nil {
				return nil, err
			}
		}
		return nil, f.execErr
	}

	var names []string
	switch p := params.(type) {
	case media.FrameParams:
		n := len(p.Timestamps)
		if p.Mode == media.FrameModeAll {
			n = f.probe.TotalFrames
		}
		for i := 0; i < n; i++ {
			names = append(names, media.FrameFilename(i+1))
		}
	case media.TrimParams:
		names = []string{"trimmed.mp4"}
	case media.CubeMapParams:
		for i := range media.CubeFaces {
			names = append(names, media.CubeFaceFilename(p.BaseName, i))
		}
	}

	var files []string
	for i := len(names) - 1; i >= 0; i-- {
		path := filepath.Join(outDir, names[i])
		if err := os.WriteFile(path, []byte("out"), 0o644); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	if progress != nil {
		progress("done", 100)
	}
	return &media.Output{Files: files}, nil
}

func (f *fakeTool) executeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.execCalls)
}

// brokenStore は書き込みをすべて拒否するストアです。
type brokenStore struct{}

var errBroken = errors.New("disk I/O error")

func (brokenStore) CreateJob(context.Context, storage.NewJob) (int64, error) { return 0, errBroken }
func (brokenStore) UpdateJob(context.Context, int64, storage.JobUpdate) (int64, error) {
	return 0, errBroken
}
func (brokenStore) GetJob(context.Context, int64) (*storage.Job, error) { return nil, errBroken }
func (brokenStore) AddArtifacts(context.Context, int64, []storage.NewArtifact) error {
	return errBroken
}
func (brokenStore) ListArtifacts(context.Context, int64) ([]*storage.Artifact, error) {
	return nil, errBroken
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []int64
	err       error
}

func (s *fakeScheduler) Schedule(ctx context.Context, jobID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, jobID)
	return nil
}

type fakeProgress struct {
	mu      sync.Mutex
	updates map[int64][]int
}

func (p *fakeProgress) Update(ctx context.Context, jobID int64, stage string, percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updates == nil {
		p.updates = map[int64][]int{}
	}
	p.updates[jobID] = append(p.updates[jobID], percent)
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	store     *storage.Storage
	manager   *Manager
	tool      *fakeTool
	uploadDir string
	outputDir string
	logs      *syncBuffer
}

func newTestEnv(t *testing.T, tool *fakeTool, opts Options) *testEnv {
	t.Helper()
	root := t.TempDir()
	st, err := storage.New(filepath.Join(root, "data", "test.db"))
	if err != nil {
		t.Fatalf("storage.New returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return newTestEnvWithStore(t, root, st, st, tool, opts)
}

func newTestEnvWithStore(t *testing.T, root string, st *storage.Storage, store Store, tool *fakeTool, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		store:     st,
		tool:      tool,
		uploadDir: filepath.Join(root, "uploads"),
		outputDir: filepath.Join(root, "output"),
		logs:      &syncBuffer{},
	}
	if err := os.MkdirAll(env.uploadDir, 0o755); err != nil {
		t.Fatal(err)
	}
	opts.OutputDir = env.outputDir
	opts.Logger = log.New(env.logs, "", 0)
	m, err := NewManager(store, tool, artifacts.NewResolver("http://media.test", env.outputDir), opts)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	env.manager = m
	return env
}

func (e *testEnv) upload(t *testing.T, name, mimeType string) Upload {
	t.Helper()
	f, err := os.CreateTemp(e.uploadDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("payload"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return Upload{
		Path:         f.Name(),
		StoredName:   filepath.Base(f.Name()),
		OriginalName: name,
		Size:         7,
		MimeType:     mimeType,
	}
}

func assertRemoved(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected %s to be removed, stat err = %v", path, err)
	}
}

func float(v float64) *float64 { return &v }
