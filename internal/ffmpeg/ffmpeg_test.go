package ffmpeg

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

// generateTestVideo renders a short synthetic clip with a sine audio track
func generateTestVideo(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "test.mp4")
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi", "-i", "testsrc=duration=2:size=320x240:rate=30",
		"-f", "lavfi", "-i", "sine=frequency=1000:duration=2",
		"-pix_fmt", "yuv420p", "-shortest", "-y", path)
	if err := cmd.Run(); err != nil {
		t.Skipf("could not generate test video: %v", err)
	}
	return path
}

func testExecutor(t *testing.T) *Executor {
	t.Helper()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	exec, err := New(logger, 2)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}
	return exec
}

func TestExecutorCreation(t *testing.T) {
	skipIfNoFFmpeg(t)

	exec := testExecutor(t)
	if exec.ffmpegPath == "" {
		t.Error("ffmpeg path is empty")
	}
	if exec.ffprobePath == "" {
		t.Error("ffprobe path is empty")
	}
}

func TestFilterBuilder(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.Scale(1920, 1080).FPS(30).Build()

	expected := "scale=1920:1080,fps=30.000000"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}

func TestFilterBuilderEmpty(t *testing.T) {
	fb := NewFilterBuilder()
	filter := fb.Build()

	if filter != "" {
		t.Errorf("expected empty string, got %q", filter)
	}
}

func TestFilterBuilderFractionalFPS(t *testing.T) {
	filter := NewFilterBuilder().FPS(0.33).Build()

	expected := "fps=0.330000"
	if filter != expected {
		t.Errorf("expected %q, got %q", expected, filter)
	}
}

func TestExtractSegmentRejectsInvalidWindow(t *testing.T) {
	e := &Executor{logger: zerolog.New(os.Stderr)}

	err := e.ExtractSegment(context.Background(), "in.mp4", SegmentOptions{
		Start:  10,
		End:    10,
		Output: "out.mp4",
	})
	if err == nil {
		t.Fatal("expected error for zero-length window")
	}
}

func TestSampleFramesRejectsInvalidOptions(t *testing.T) {
	e := &Executor{logger: zerolog.New(os.Stderr)}

	if err := e.SampleFrames(context.Background(), "in.mp4", FrameOptions{FPS: 0, OutputDir: "frames"}); err == nil {
		t.Error("expected error for non-positive fps")
	}
	if err := e.SampleFrames(context.Background(), "in.mp4", FrameOptions{FPS: 1}); err == nil {
		t.Error("expected error for missing output directory")
	}
}

func TestProbeVideo(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	videoPath := generateTestVideo(t, dir)
	exec := testExecutor(t)

	info, err := exec.ProbeVideo(context.Background(), videoPath)
	if err != nil {
		t.Fatalf("ProbeVideo failed: %v", err)
	}

	if info.Width != 320 {
		t.Errorf("expected width 320, got %d", info.Width)
	}
	if info.Height != 240 {
		t.Errorf("expected height 240, got %d", info.Height)
	}
	if info.Duration <= 0 {
		t.Error("duration is zero")
	}
	if !info.HasAudio {
		t.Error("expected audio track")
	}
	if info.AudioDuration <= 0 {
		t.Error("audio duration is zero")
	}
}

func TestProbeVideoInvalidFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	exec := testExecutor(t)
	ctx := context.Background()

	if _, err := exec.ProbeVideo(ctx, "nonexistent.mp4"); err == nil {
		t.Error("ProbeVideo should fail for non-existent file")
	}

	dir := t.TempDir()
	invalidPath := filepath.Join(dir, "invalid.txt")
	os.WriteFile(invalidPath, []byte("not a video"), 0644)

	if _, err := exec.ProbeVideo(ctx, invalidPath); err == nil {
		t.Error("ProbeVideo should fail for invalid video file")
	}
}

func TestExtractSegmentAndSampleFrames(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	videoPath := generateTestVideo(t, dir)
	exec := testExecutor(t)
	ctx := context.Background()

	segPath := filepath.Join(dir, "segment.mp4")
	err := exec.ExtractSegment(ctx, videoPath, SegmentOptions{
		Start:  0,
		End:    1,
		Output: segPath,
	})
	if err != nil {
		t.Fatalf("ExtractSegment failed: %v", err)
	}
	if _, err := os.Stat(segPath); err != nil {
		t.Fatalf("segment file was not created: %v", err)
	}

	framesDir := filepath.Join(dir, "frames")
	if err := os.MkdirAll(framesDir, 0755); err != nil {
		t.Fatal(err)
	}
	err = exec.SampleFrames(ctx, segPath, FrameOptions{FPS: 2, OutputDir: framesDir})
	if err != nil {
		t.Fatalf("SampleFrames failed: %v", err)
	}

	entries, err := os.ReadDir(framesDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Error("no frames were written")
	}
}

func TestExtractAudioAndChunk(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	videoPath := generateTestVideo(t, dir)
	exec := testExecutor(t)
	ctx := context.Background()

	audioPath := filepath.Join(dir, "audio.mp3")
	if err := exec.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		t.Fatalf("ExtractAudio failed: %v", err)
	}
	stat, err := os.Stat(audioPath)
	if err != nil {
		t.Fatalf("audio file was not created: %v", err)
	}
	if stat.Size() == 0 {
		t.Error("audio file is empty")
	}

	chunkPath := filepath.Join(dir, "chunk_0.mp3")
	err = exec.ExtractAudioChunk(ctx, videoPath, AudioChunkOptions{
		Start:  0,
		End:    1,
		Output: chunkPath,
	})
	if err != nil {
		t.Fatalf("ExtractAudioChunk failed: %v", err)
	}
	if _, err := os.Stat(chunkPath); err != nil {
		t.Fatalf("chunk file was not created: %v", err)
	}
}
