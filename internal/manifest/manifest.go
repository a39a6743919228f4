package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/keller/filmstrip/pkg/util"
)

// ManifestFileName is the fixed name of the persisted manifest inside the
// output directory
const ManifestFileName = "_video_manifest.json"

// NoTranscript is recorded on segments when transcript generation is off
const NoTranscript = "No transcript for this segment."

// Manifest is the root record for one video: its source metadata, the
// parameters it was processed with, and the per-segment results. It is
// mutated by a single orchestrating goroutine only; workers report results
// back by segment index
type Manifest struct {
	Name               string               `json:"name"`
	SourceVideo        SourceVideo          `json:"source_video"`
	ProcessingParams   ProcessingParams     `json:"processing_params"`
	SegmentMetadata    SegmentMetadata      `json:"segment_metadata"`
	Segments           []Segment            `json:"segments"`
	AudioTranscription *TranscriptionResult `json:"audio_transcription,omitempty"`
	VideoManifestPath  string               `json:"video_manifest_path,omitempty"`
}

// SourceVideo describes the probed input file
type SourceVideo struct {
	Path            string  `json:"path"`
	Duration        float64 `json:"duration"`
	FPS             float64 `json:"fps"`
	HasAudio        bool    `json:"has_audio"`
	AudioDuration   float64 `json:"audio_duration,omitempty"`
	AudioSampleRate int     `json:"audio_sample_rate,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
}

// ProcessingParams are the knobs a preprocessing run was started with
type ProcessingParams struct {
	SegmentLength        float64 `json:"segment_length"`
	FPS                  float64 `json:"fps"`
	GenerateTranscript   bool    `json:"generate_transcript"`
	TrimToNearestSecond  bool    `json:"trim_to_nearest_second"`
	AllowPartialSegments bool    `json:"allow_partial_segments"`
	OutputDirectory      string  `json:"output_directory"`
}

// SegmentMetadata holds values derived from planning, recomputed whenever
// planning runs
type SegmentMetadata struct {
	EffectiveDuration float64 `json:"effective_duration"`
	SegmentCount      int     `json:"segment_count"`
}

// Segment is one fixed-length slice of the source video. Index position in
// Manifest.Segments is chronological order and the unit of parallel work
type Segment struct {
	Name          string    `json:"name"`
	FolderPath    string    `json:"folder_path"`
	StartTime     float64   `json:"start_time"`
	EndTime       float64   `json:"end_time"`
	Duration      float64   `json:"duration"`
	FrameCount    int       `json:"frame_count"`
	FrameTimes    []float64 `json:"frame_times"`
	FramePaths    []string  `json:"frame_paths,omitempty"`
	Transcription string    `json:"transcription,omitempty"`
	Processed     bool      `json:"processed"`
}

// SegmentName builds the canonical segment directory name. Index is
// 0-based internally, 1-based in the name
func SegmentName(index int, start, end float64) string {
	return fmt.Sprintf("seg%d_start%ss_end%ss", index+1, util.FormatSeconds(start), util.FormatSeconds(end))
}

// FrameFileName builds the renamed frame file name carrying the sample
// index and its planned timestamp
func FrameFileName(n int, t float64) string {
	return fmt.Sprintf("frame_%d_%ss.jpg", n, util.FormatSeconds(t))
}

// DeriveOutputDir builds the default output directory next to the video
// when the caller does not pick one
func DeriveOutputDir(videoPath string, fps, segmentLength float64) string {
	stem := util.SanitizeName(util.Stem(videoPath))
	name := fmt.Sprintf("%s_%.2ffps_%ssSegs_filmstrip", stem, fps, util.FormatSeconds(segmentLength))
	return filepath.Join(filepath.Dir(videoPath), name)
}

// PrepareOutputDir creates the output directory. An existing non-empty
// directory is refused unless overwrite is set, in which case it is
// removed and recreated
func PrepareOutputDir(dir string, overwrite bool) error {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) > 0 {
		if !overwrite {
			return fmt.Errorf("output directory %s already exists and is not empty (enable overwrite to replace it)", dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear output directory: %w", err)
		}
	}
	if err := util.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// New builds a manifest for a source video from probed metadata
func New(videoPath string, source SourceVideo) *Manifest {
	return &Manifest{
		Name:        filepath.Base(videoPath),
		SourceVideo: source,
	}
}

// Save serializes the manifest into its output directory and records the
// location on the manifest itself
func (m *Manifest) Save() (string, error) {
	if m.ProcessingParams.OutputDirectory == "" {
		return "", fmt.Errorf("manifest has no output directory")
	}

	path := filepath.Join(m.ProcessingParams.OutputDirectory, ManifestFileName)
	m.VideoManifestPath = path

	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	return path, nil
}

// Load reads a previously saved manifest so analysis can resume without
// re-running preprocessing
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}

	if m.Name == "" || m.SourceVideo.Path == "" {
		return nil, fmt.Errorf("manifest %s is missing source video information", path)
	}

	return &m, nil
}

// UnprocessedIndexes lists segments that still need (or failed) extraction
func (m *Manifest) UnprocessedIndexes() []int {
	var out []int
	for i := range m.Segments {
		if !m.Segments[i].Processed {
			out = append(out, i)
		}
	}
	return out
}
