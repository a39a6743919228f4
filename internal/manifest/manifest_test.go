package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSegmentName(t *testing.T) {
	tests := []struct {
		index      int
		start, end float64
		want       string
	}{
		{0, 0, 10, "seg1_start0s_end10s"},
		{2, 20, 30, "seg3_start20s_end30s"},
		{0, 0, 7.5, "seg1_start0s_end7.5s"},
	}

	for _, tt := range tests {
		if got := SegmentName(tt.index, tt.start, tt.end); got != tt.want {
			t.Errorf("SegmentName(%d, %v, %v) = %q, want %q", tt.index, tt.start, tt.end, got, tt.want)
		}
	}
}

func TestFrameFileName(t *testing.T) {
	if got := FrameFileName(0, 1.5); got != "frame_0_1.5s.jpg" {
		t.Errorf("FrameFileName = %q", got)
	}
	if got := FrameFileName(3, 10); got != "frame_3_10s.jpg" {
		t.Errorf("FrameFileName = %q", got)
	}
}

func TestDeriveOutputDir(t *testing.T) {
	got := DeriveOutputDir("/videos/my talk.mp4", 0.33, 10)
	want := filepath.Join("/videos", "my_talk_0.33fps_10sSegs_filmstrip")
	if got != want {
		t.Errorf("DeriveOutputDir = %q, want %q", got, want)
	}
}

func TestPrepareOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	if err := PrepareOutputDir(dir, false); err != nil {
		t.Fatalf("creating a fresh directory failed: %v", err)
	}

	// an empty existing directory is fine without overwrite
	if err := PrepareOutputDir(dir, false); err != nil {
		t.Errorf("empty existing directory refused: %v", err)
	}

	stale := filepath.Join(dir, "stale.txt")
	if err := os.WriteFile(stale, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := PrepareOutputDir(dir, false); err == nil {
		t.Error("non-empty directory accepted without overwrite")
	}

	if err := PrepareOutputDir(dir, true); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("overwrite did not clear the old contents")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := New("/videos/talk.mp4", SourceVideo{Path: "/videos/talk.mp4", Duration: 25, HasAudio: true})
	m.ProcessingParams = ProcessingParams{
		SegmentLength:   10,
		FPS:             0.33,
		OutputDirectory: dir,
	}
	m.SegmentMetadata = SegmentMetadata{EffectiveDuration: 25, SegmentCount: 1}
	m.Segments = []Segment{{Name: "seg1_start0s_end10s", StartTime: 0, EndTime: 10, Processed: true}}
	m.AudioTranscription = &TranscriptionResult{Text: "hello", Duration: 25}

	path, err := m.Save()
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Base(path) != ManifestFileName {
		t.Errorf("saved as %q, want %q", filepath.Base(path), ManifestFileName)
	}
	if m.VideoManifestPath != path {
		t.Errorf("VideoManifestPath %q not recorded", m.VideoManifestPath)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Name != "talk.mp4" || loaded.SourceVideo.Duration != 25 {
		t.Errorf("loaded manifest %+v", loaded)
	}
	if loaded.AudioTranscription == nil || loaded.AudioTranscription.Text != "hello" {
		t.Error("transcript lost in round trip")
	}
	if len(loaded.Segments) != 1 || !loaded.Segments[0].Processed {
		t.Error("segments lost in round trip")
	}
}

func TestSaveRequiresOutputDir(t *testing.T) {
	m := New("/videos/talk.mp4", SourceVideo{Path: "/videos/talk.mp4"})
	if _, err := m.Save(); err == nil {
		t.Error("expected error without an output directory")
	}
}

func TestLoadRejectsBadManifests(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for a missing file")
	}

	garbage := filepath.Join(dir, "garbage.json")
	os.WriteFile(garbage, []byte("not json"), 0644)
	if _, err := Load(garbage); err == nil {
		t.Error("expected error for invalid JSON")
	}

	// valid JSON that is not a usable manifest
	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte("{}"), 0644)
	if _, err := Load(empty); err == nil {
		t.Error("expected error for a manifest without source video info")
	}
}

func TestUnprocessedIndexes(t *testing.T) {
	m := &Manifest{Segments: []Segment{
		{Processed: true},
		{Processed: false},
		{Processed: true},
		{Processed: false},
	}}

	got := m.UnprocessedIndexes()
	want := []int{1, 3}
	if len(got) != len(want) {
		t.Fatalf("UnprocessedIndexes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("UnprocessedIndexes = %v, want %v", got, want)
		}
	}
}
