package preprocess_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/keller/filmstrip/internal/ffmpeg"
	"github.com/keller/filmstrip/internal/preprocess"
)

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

func generateTestVideo(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "test.mp4")
	cmd := exec.Command("ffmpeg",
		"-f", "lavfi", "-i", "testsrc=duration=4:size=320x240:rate=30",
		"-f", "lavfi", "-i", "sine=frequency=1000:duration=4",
		"-pix_fmt", "yuv420p", "-shortest", "-y", path)
	if err := cmd.Run(); err != nil {
		t.Skipf("could not generate test video: %v", err)
	}
	return path
}

func TestIntegration_PreprocessRealVideo(t *testing.T) {
	skipIfNoFFmpeg(t)

	dir := t.TempDir()
	video := generateTestVideo(t, dir)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	media, err := ffmpeg.New(logger, 2)
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}

	p := preprocess.New(logger, media, nil, 18)

	m, err := p.Run(context.Background(), video, preprocess.Options{
		SegmentLength:        2,
		FPS:                  1,
		GenerateTranscript:   false,
		AllowPartialSegments: true,
		OutputDir:            filepath.Join(dir, "out"),
		Workers:              2,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(m.Segments) == 0 {
		t.Fatal("no segments produced")
	}
	for i, seg := range m.Segments {
		if !seg.Processed {
			t.Errorf("segment %d not processed", i)
		}
		if len(seg.FramePaths) == 0 {
			t.Errorf("segment %d has no frames", i)
		}
		for _, frame := range seg.FramePaths {
			if _, err := os.Stat(frame); err != nil {
				t.Errorf("frame %s missing: %v", frame, err)
			}
		}
	}

	if _, err := os.Stat(m.VideoManifestPath); err != nil {
		t.Errorf("persisted manifest missing: %v", err)
	}
}
