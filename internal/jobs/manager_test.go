package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/yourusername/media-forge/internal/media"
	"github.com/yourusername/media-forge/internal/storage"
)

func thirtySecondProbe() *media.ProbeResult {
	return &media.ProbeResult{Duration: 30, FrameRate: 30, TotalFrames: 900, Raw: json.RawMessage(`{"format":{"duration":"30"}}`)}
}

func TestSubmitFrameExtractionCount(t *testing.T) {
	env := newTestEnv(t, &fakeTool{probe: thirtySecondProbe()}, Options{})
	ctx := context.Background()
	up := env.upload(t, "clip.mp4", "video/mp4")

	summary, err := env.manager.Submit(ctx, &Request{
		Operation: OperationFrames,
		Upload:    up,
		Params:    Parameters{FrameMode: media.FrameModeCount, FrameCount: 5},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if summary.ArtifactCount != 5 || len(summary.Artifacts) != 5 {
		t.Fatalf("artifact count = %d/%d, want 5", summary.ArtifactCount, len(summary.Artifacts))
	}
	if filepath.Base(summary.OutputDir) != filepathBase("frames", summary.JobID) {
		t.Fatalf("unexpected output dir %s", summary.OutputDir)
	}

	want := []float64{5, 10, 15, 20, 25}
	stored, err := env.store.ListArtifacts(ctx, summary.JobID)
	if err != nil {
		t.Fatalf("ListArtifacts returned error: %v", err)
	}
	if len(stored) != len(want) {
		t.Fatalf("stored %d artifacts, want %d", len(stored), len(want))
	}
	for i, a := range stored {
		if a.Ordinal != i+1 {
			t.Fatalf("artifact %d has ordinal %d", i, a.Ordinal)
		}
		if math.Abs(a.Timestamp-want[i]) > 1e-6 {
			t.Fatalf("artifact %d timestamp = %v, want %v", i, a.Timestamp, want[i])
		}
		if filepath.Base(a.Path) != media.FrameFilename(i+1) {
			t.Fatalf("artifact %d path = %s", i, a.Path)
		}
	}
	if summary.Artifacts[0].URL != "http://media.test/files/"+filepathBase("frames", summary.JobID)+"/frame_000001.png" {
		t.Fatalf("unexpected url %s", summary.Artifacts[0].URL)
	}

	job, err := env.store.GetJob(ctx, summary.JobID)
	if err != nil || job == nil {
		t.Fatalf("GetJob = %v, %v", job, err)
	}
	if job.Status != storage.StatusCompleted || job.CompletedAt == nil || job.ErrorMessage != "" {
		t.Fatalf("unexpected job state: %+v", job)
	}
	if job.OutputPath != summary.OutputDir || job.ArtifactCount != 5 {
		t.Fatalf("unexpected job output: %+v", job)
	}
	details, err := DecodeDetails(OperationFrames, job.Details)
	if err != nil {
		t.Fatalf("DecodeDetails returned error: %v", err)
	}
	fd := details.(*FrameDetails)
	if fd.RequestedCount != 5 || fd.FrameCount != 5 || fd.Duration != 30 {
		t.Fatalf("unexpected details: %+v", fd)
	}
	assertRemoved(t, up.Path)
}

func filepathBase(prefix string, id int64) string {
	return prefix + "_" + strconv.FormatInt(id, 10)
}

func TestSubmitFrameExtractionPerSecond(t *testing.T) {
	env := newTestEnv(t, &fakeTool{probe: &media.ProbeResult{Duration: 4.5, FrameRate: 25, TotalFrames: 112}}, Options{})
	summary, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationFrames,
		Upload:    env.upload(t, "clip.mp4", "video/mp4"),
		Params:    Parameters{FrameMode: media.FrameModePerSecond},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(summary.Artifacts) != 4 {
		t.Fatalf("got %d artifacts, want 4", len(summary.Artifacts))
	}
	for i, loc := range summary.Artifacts {
		if loc.Timestamp != float64(i+1) || loc.FrameNumber != i+1 {
			t.Fatalf("artifact %d = %+v", i, loc)
		}
	}
}

func TestSubmitFrameExtractionAllRequiresConfirm(t *testing.T) {
	tool := &fakeTool{probe: &media.ProbeResult{Duration: 1, FrameRate: 4, TotalFrames: 4}}
	env := newTestEnv(t, tool, Options{})
	up := env.upload(t, "clip.mp4", "video/mp4")

	_, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationFrames,
		Upload:    up,
		Params:    Parameters{FrameMode: media.FrameModeAll},
	})
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	assertRemoved(t, up.Path)

	summary, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationFrames,
		Upload:    env.upload(t, "clip.mp4", "video/mp4"),
		Params:    Parameters{FrameMode: media.FrameModeAll, ConfirmAll: true},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	want := []float64{0, 0.25, 0.5, 0.75}
	if len(summary.Artifacts) != len(want) {
		t.Fatalf("got %d artifacts, want %d", len(summary.Artifacts), len(want))
	}
	for i, loc := range summary.Artifacts {
		if loc.Timestamp != want[i] {
			t.Fatalf("artifact %d timestamp = %v, want %v", i, loc.Timestamp, want[i])
		}
	}
}

func TestSubmitZeroFramesCompletesWithoutTool(t *testing.T) {
	tool := &fakeTool{probe: &media.ProbeResult{Duration: 0.01, FrameRate: 30, TotalFrames: 0}}
	env := newTestEnv(t, tool, Options{})
	up := env.upload(t, "blip.mp4", "video/mp4")

	summary, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationFrames,
		Upload:    up,
		Params:    Parameters{FrameCount: 3},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if summary.ArtifactCount != 0 || summary.Status != storage.StatusCompleted {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if tool.executeCount() != 0 {
		t.Fatalf("tool executed %d times, want 0", tool.executeCount())
	}
	job, _ := env.store.GetJob(context.Background(), summary.JobID)
	if job.Status != storage.StatusCompleted {
		t.Fatalf("job status = %s", job.Status)
	}
	assertRemoved(t, up.Path)
}

func TestSubmitTrimRejectsInvalidRange(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, Options{})
	up := env.upload(t, "clip.mp4", "video/mp4")

	_, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationTrim,
		Upload:    up,
		Params:    Parameters{Start: float(5), End: float(2)},
	})
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeInvalidInput || jobErr.JobID != 0 {
		t.Fatalf("expected INVALID_INPUT without job, got %v", err)
	}
	jobs, err := env.store.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("ListJobs returned error: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d", len(jobs))
	}
	assertRemoved(t, up.Path)
}

func TestSubmitTrim(t *testing.T) {
	tool := &fakeTool{}
	env := newTestEnv(t, tool, Options{})
	summary, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationTrim,
		Upload:    env.upload(t, "clip.mp4", "video/mp4"),
		Params:    Parameters{Start: float(1.5), End: float(4), PreserveMetadata: true},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if len(summary.Artifacts) != 1 || summary.Artifacts[0].Timestamp != 1.5 {
		t.Fatalf("unexpected artifacts: %+v", summary.Artifacts)
	}
	d := summary.Details.(*TrimDetails)
	if d.OutputFilename != "trimmed.mp4" || d.OutputSize != 3 || d.Duration != 2.5 {
		t.Fatalf("unexpected details: %+v", d)
	}
	p := tool.execCalls[0].(media.TrimParams)
	if p.Start != 1.5 || p.End != 4 || !p.PreserveMetadata {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestSubmitMetadataProbeFailure(t *testing.T) {
	tool := &fakeTool{probeErr: &media.ToolError{Tool: "ffprobe", Message: "Invalid data found when processing input"}}
	env := newTestEnv(t, tool, Options{})
	up := env.upload(t, "broken.mp4", "video/mp4")

	_, err := env.manager.Submit(context.Background(), &Request{Operation: OperationMetadata, Upload: up})
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeToolError || jobErr.JobID == 0 {
		t.Fatalf("expected TOOL_ERROR with job id, got %v", err)
	}

	job, _ := env.store.GetJob(context.Background(), jobErr.JobID)
	if job.Status != storage.StatusFailed {
		t.Fatalf("job status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "Invalid data found") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}
	if job.CompletedAt != nil {
		t.Fatal("failed job should not have a completion time")
	}
	assertRemoved(t, up.Path)
}

func TestSubmitFrameExtractionToolFailureKeepsNoArtifacts(t *testing.T) {
	tool := &fakeTool{
		probe:   thirtySecondProbe(),
		execErr: &media.ToolError{Tool: "ffmpeg", Message: "Conversion failed!"},
		partial: 2,
	}
	env := newTestEnv(t, tool, Options{})
	ctx := context.Background()
	up := env.upload(t, "clip.mp4", "video/mp4")

	summary, err := env.manager.Submit(ctx, &Request{
		Operation: OperationFrames,
		Upload:    up,
		Params:    Parameters{FrameMode: media.FrameModeCount, FrameCount: 5},
	})
	if summary != nil {
		t.Fatalf("expected no summary, got %+v", summary)
	}
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeToolError || jobErr.JobID == 0 {
		t.Fatalf("expected TOOL_ERROR with job id, got %v", err)
	}

	job, err := env.store.GetJob(ctx, jobErr.JobID)
	if err != nil || job == nil {
		t.Fatalf("GetJob = %v, %v", job, err)
	}
	if job.Status != storage.StatusFailed || job.CompletedAt != nil {
		t.Fatalf("unexpected job state: %+v", job)
	}
	if !strings.Contains(job.ErrorMessage, "Conversion failed!") {
		t.Fatalf("error message = %q", job.ErrorMessage)
	}

	stored, err := env.store.ListArtifacts(ctx, jobErr.JobID)
	if err != nil {
		t.Fatalf("ListArtifacts returned error: %v", err)
	}
	if len(stored) != 0 || job.ArtifactCount != 0 {
		t.Fatalf("failed job has %d artifacts recorded", len(stored))
	}
	// 途中まで書かれたファイルは残るが、成果物としては記録されない
	partial := filepath.Join(env.outputDir, filepathBase("frames", jobErr.JobID), media.FrameFilename(2))
	if _, err := os.Stat(partial); err != nil {
		t.Fatalf("partial output should stay on disk: %v", err)
	}
	assertRemoved(t, up.Path)
}

func TestSubmitMetadata(t *testing.T) {
	env := newTestEnv(t, &fakeTool{probe: thirtySecondProbe()}, Options{})
	summary, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationMetadata,
		Upload:    env.upload(t, "clip.mp4", "video/mp4"),
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if summary.Probe == nil || summary.OutputDir != "" || summary.ArtifactCount != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	job, _ := env.store.GetJob(context.Background(), summary.JobID)
	d, _ := DecodeDetails(OperationMetadata, job.Details)
	md := d.(*MetadataDetails)
	if !md.MetadataExtracted || md.Duration != 30 || len(md.Probe) == 0 {
		t.Fatalf("unexpected details: %+v", md)
	}
}

func TestSubmitCubeMapTwoImages(t *testing.T) {
	env := newTestEnv(t, &fakeTool{image: &media.ImageInfo{Format: "png", Width: 400, Height: 200}}, Options{CubeFaceSize: 256})
	ctx := context.Background()

	var summaries []*Summary
	for _, name := range []string{"alpha.png", "beta.png"} {
		summary, err := env.manager.Submit(ctx, &Request{Operation: OperationCubeMap, Upload: env.upload(t, name, "image/png")})
		if err != nil {
			t.Fatalf("Submit(%s) returned error: %v", name, err)
		}
		summaries = append(summaries, summary)
	}

	if summaries[0].JobID == summaries[1].JobID || summaries[0].OutputDir == summaries[1].OutputDir {
		t.Fatal("jobs must not share ids or output directories")
	}
	for _, s := range summaries {
		if len(s.Artifacts) != 6 {
			t.Fatalf("job %d has %d faces, want 6", s.JobID, len(s.Artifacts))
		}
		for i, loc := range s.Artifacts {
			if !strings.HasSuffix(loc.FileName, "_"+media.CubeFaces[i]+".png") {
				t.Fatalf("face %d = %s, want %s", i, loc.FileName, media.CubeFaces[i])
			}
			if loc.FrameNumber != i+1 {
				t.Fatalf("face %d ordinal = %d", i, loc.FrameNumber)
			}
		}
		d := s.Details.(*CubeMapDetails)
		if d.FaceSize != 256 || d.SourceWidth != 400 {
			t.Fatalf("unexpected details: %+v", d)
		}
	}
	if summaries[0].Artifacts[0].FileName != "alpha_1_front.png" {
		t.Fatalf("unexpected first face %s", summaries[0].Artifacts[0].FileName)
	}
}

func TestSubmitRejectsWrongMediaType(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, Options{})
	up := env.upload(t, "notes.txt", "text/plain")
	_, err := env.manager.Submit(context.Background(), &Request{Operation: OperationCubeMap, Upload: up})
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	assertRemoved(t, up.Path)
}

func TestSubmitRecoversFromPanic(t *testing.T) {
	env := newTestEnv(t, &fakeTool{panicMsg: "codec exploded"}, Options{})
	up := env.upload(t, "clip.mp4", "video/mp4")

	_, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationTrim,
		Upload:    up,
		Params:    Parameters{Start: float(0), End: float(1)},
	})
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeInternal {
		t.Fatalf("expected INTERNAL_ERROR, got %v", err)
	}
	job, _ := env.store.GetJob(context.Background(), jobErr.JobID)
	if job.Status != storage.StatusFailed || !strings.Contains(job.ErrorMessage, "codec exploded") {
		t.Fatalf("unexpected job: %+v", job)
	}
	assertRemoved(t, up.Path)
}

func TestSubmitWithBrokenStoreRunsUntracked(t *testing.T) {
	root := t.TempDir()
	env := newTestEnvWithStore(t, root, nil, brokenStore{}, &fakeTool{probe: thirtySecondProbe()}, Options{})
	up := env.upload(t, "clip.mp4", "video/mp4")

	summary, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationFrames,
		Upload:    up,
		Params:    Parameters{FrameCount: 2},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if summary.JobID != 0 || summary.Tracked {
		t.Fatalf("expected untracked summary, got %+v", summary)
	}
	if !strings.Contains(filepath.Base(summary.OutputDir), "frames_untracked_") {
		t.Fatalf("unexpected output dir %s", summary.OutputDir)
	}
	if len(summary.Artifacts) != 2 {
		t.Fatalf("got %d artifacts, want 2", len(summary.Artifacts))
	}
	if !strings.Contains(env.logs.String(), "[JOB untracked:") {
		t.Fatalf("degraded mode not visible in logs:\n%s", env.logs.String())
	}
	assertRemoved(t, up.Path)
}

func TestConcurrentSubmissionsAreIndependent(t *testing.T) {
	tool := &fakeTool{probe: thirtySecondProbe()}
	env := newTestEnv(t, tool, Options{})
	ctx := context.Background()

	uploads := []Upload{env.upload(t, "a.mp4", "video/mp4"), env.upload(t, "b.mp4", "video/mp4")}
	summaries := make([]*Summary, len(uploads))
	errs := make([]error, len(uploads))
	var wg sync.WaitGroup
	for i := range uploads {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summaries[i], errs[i] = env.manager.Submit(ctx, &Request{
				Operation: OperationFrames,
				Upload:    uploads[i],
				Params:    Parameters{FrameCount: 3},
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Submit %d returned error: %v", i, err)
		}
	}
	if summaries[0].JobID == summaries[1].JobID || summaries[0].OutputDir == summaries[1].OutputDir {
		t.Fatal("concurrent jobs collided")
	}
	for _, s := range summaries {
		stored, _ := env.store.ListArtifacts(ctx, s.JobID)
		if len(stored) != 3 {
			t.Fatalf("job %d has %d artifacts, want 3", s.JobID, len(stored))
		}
		for _, a := range stored {
			if filepath.Dir(a.Path) != s.OutputDir {
				t.Fatalf("artifact %s outside job dir %s", a.Path, s.OutputDir)
			}
		}
	}
}

func TestAsyncSubmitThenResume(t *testing.T) {
	scheduler := &fakeScheduler{}
	progress := &fakeProgress{}
	env := newTestEnv(t, &fakeTool{probe: thirtySecondProbe()}, Options{Scheduler: scheduler, Progress: progress})
	ctx := context.Background()
	up := env.upload(t, "clip.mp4", "video/mp4")

	summary, err := env.manager.Submit(ctx, &Request{
		Operation: OperationFrames,
		Upload:    up,
		Params:    Parameters{FrameCount: 4},
		Async:     true,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if !summary.Queued || summary.Status != storage.StatusProcessing {
		t.Fatalf("expected queued summary, got %+v", summary)
	}
	if len(scheduler.scheduled) != 1 || scheduler.scheduled[0] != summary.JobID {
		t.Fatalf("unexpected schedule calls: %v", scheduler.scheduled)
	}
	if _, err := os.Stat(up.Path); err != nil {
		t.Fatalf("input should be kept for the worker: %v", err)
	}

	resumed, err := env.manager.Resume(ctx, summary.JobID)
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if resumed.ArtifactCount != 4 || resumed.Status != storage.StatusCompleted {
		t.Fatalf("unexpected resumed summary: %+v", resumed)
	}
	assertRemoved(t, up.Path)

	again, err := env.manager.Resume(ctx, summary.JobID)
	if err != nil {
		t.Fatalf("second Resume returned error: %v", err)
	}
	if again.Status != storage.StatusCompleted || again.ArtifactCount != 4 {
		t.Fatalf("second Resume changed state: %+v", again)
	}
	if env.tool.executeCount() != 1 {
		t.Fatalf("tool executed %d times, want 1", env.tool.executeCount())
	}

	updates := progress.updates[summary.JobID]
	if len(updates) == 0 || updates[len(updates)-1] != 100 {
		t.Fatalf("unexpected progress updates: %v", updates)
	}
}

func TestAsyncFallsBackWhenEnqueueFails(t *testing.T) {
	scheduler := &fakeScheduler{err: errors.New("redis down")}
	env := newTestEnv(t, &fakeTool{probe: thirtySecondProbe()}, Options{Scheduler: scheduler})
	summary, err := env.manager.Submit(context.Background(), &Request{
		Operation: OperationMetadata,
		Upload:    env.upload(t, "clip.mp4", "video/mp4"),
		Async:     true,
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if summary.Queued || summary.Status != storage.StatusCompleted {
		t.Fatalf("expected synchronous completion, got %+v", summary)
	}
}

func TestResumeUnknownJob(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, Options{})
	_, err := env.manager.Resume(context.Background(), 404)
	var jobErr *Error
	if !errors.As(err, &jobErr) || jobErr.Code != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestSaveMetadata(t *testing.T) {
	env := newTestEnv(t, &fakeTool{probe: thirtySecondProbe()}, Options{})
	ctx := context.Background()
	summary, err := env.manager.Submit(ctx, &Request{Operation: OperationMetadata, Upload: env.upload(t, "clip.mp4", "video/mp4")})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	saved, err := env.manager.SaveMetadata(ctx, summary.JobID, "clip.mp4", json.RawMessage(`{"duration":30}`))
	if err != nil {
		t.Fatalf("SaveMetadata returned error: %v", err)
	}
	if saved.Filename != "clip_metadata.json" || saved.URL != "http://media.test/files/clip_metadata.json" {
		t.Fatalf("unexpected saved metadata: %+v", saved)
	}
	data, err := os.ReadFile(saved.Path)
	if err != nil || !strings.Contains(string(data), `"duration": 30`) {
		t.Fatalf("unexpected file contents %q, %v", data, err)
	}

	job, _ := env.store.GetJob(ctx, summary.JobID)
	if job.MetadataPath != saved.Path {
		t.Fatalf("MetadataPath = %q", job.MetadataPath)
	}
	d, _ := DecodeDetails(OperationMetadata, job.Details)
	if md := d.(*MetadataDetails); !md.MetadataSaved || md.JSONFilename != "clip_metadata.json" {
		t.Fatalf("unexpected details: %+v", md)
	}

	if _, err := env.manager.SaveMetadata(ctx, 9999, "x.mp4", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected NOT_FOUND for unknown job")
	}
	if _, err := env.manager.SaveMetadata(ctx, 0, "", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected INVALID_INPUT for empty filename")
	}
}
