// Package preprocess orchestrates the segmentation pipeline: probe the
// source, plan segment windows, build the transcript, extract frames per
// segment in parallel, and persist the manifest.
package preprocess

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/keller/filmstrip/internal/ffmpeg"
	"github.com/keller/filmstrip/internal/manifest"
	"github.com/keller/filmstrip/internal/plan"
)

// Media is the external transcoder boundary. A non-nil error from any
// call is a hard failure for that unit of work
type Media interface {
	ProbeVideo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	ExtractSegment(ctx context.Context, input string, opts ffmpeg.SegmentOptions) error
	SampleFrames(ctx context.Context, input string, opts ffmpeg.FrameOptions) error
	ExtractAudio(ctx context.Context, input, output string) error
	ExtractAudioChunk(ctx context.Context, input string, opts ffmpeg.AudioChunkOptions) error
}

// Transcriber turns one audio file into a timed transcript
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*manifest.TranscriptionResult, error)
}

// Options are the per-run knobs. Workers must already be clamped by the
// caller; the preprocessor takes it at face value
type Options struct {
	SegmentLength        float64
	FPS                  float64
	GenerateTranscript   bool
	TrimToNearestSecond  bool
	AllowPartialSegments bool
	OutputDir            string
	Overwrite            bool
	Workers              int
}

// Preprocessor runs the full pipeline for one video at a time. The
// manifest is mutated only on the calling goroutine; workers hand results
// back by segment index
type Preprocessor struct {
	logger      zerolog.Logger
	media       Media
	transcriber Transcriber
	chunkMB     float64
}

// New wires a preprocessor from its collaborators. chunkMB is the audio
// chunk size divisor; non-positive falls back to 18
func New(logger zerolog.Logger, media Media, transcriber Transcriber, chunkMB float64) *Preprocessor {
	if chunkMB <= 0 {
		chunkMB = 18
	}
	return &Preprocessor{
		logger:      logger.With().Str("component", "preprocess").Logger(),
		media:       media,
		transcriber: transcriber,
		chunkMB:     chunkMB,
	}
}

// Run preprocesses a source video from scratch and returns the persisted
// manifest. A failed audio pipeline aborts the run; individual segment
// failures do not, they are recorded as unprocessed
func (p *Preprocessor) Run(ctx context.Context, videoPath string, opts Options) (*manifest.Manifest, error) {
	start := time.Now()

	info, err := p.media.ProbeVideo(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}

	params := plan.Params{
		Duration:             info.Duration,
		SegmentLength:        opts.SegmentLength,
		FPS:                  opts.FPS,
		TrimToNearestSecond:  opts.TrimToNearestSecond,
		AllowPartialSegments: opts.AllowPartialSegments,
	}
	if err := plan.Validate(params); err != nil {
		return nil, fmt.Errorf("invalid preprocessing parameters: %w", err)
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = manifest.DeriveOutputDir(videoPath, opts.FPS, opts.SegmentLength)
	}
	if err := manifest.PrepareOutputDir(outputDir, opts.Overwrite); err != nil {
		return nil, err
	}

	m := manifest.New(videoPath, manifest.SourceVideo{
		Path:            videoPath,
		Duration:        info.Duration,
		FPS:             info.FPS,
		HasAudio:        info.HasAudio,
		AudioDuration:   info.AudioDuration,
		AudioSampleRate: info.AudioSampleRate,
		Width:           info.Width,
		Height:          info.Height,
	})
	m.ProcessingParams = manifest.ProcessingParams{
		SegmentLength:        opts.SegmentLength,
		FPS:                  opts.FPS,
		GenerateTranscript:   opts.GenerateTranscript,
		TrimToNearestSecond:  opts.TrimToNearestSecond,
		AllowPartialSegments: opts.AllowPartialSegments,
		OutputDirectory:      outputDir,
	}

	applyPlan(m, plan.Build(params))

	p.logger.Info().
		Str("video", m.Name).
		Float64("duration", info.Duration).
		Int("segments", m.SegmentMetadata.SegmentCount).
		Float64("segment_length", opts.SegmentLength).
		Float64("fps", opts.FPS).
		Msg("segments planned")

	if err := p.runAudio(ctx, m); err != nil {
		// a silently missing transcript would poison every downstream
		// analysis, so this is a hard stop
		return nil, fmt.Errorf("audio pipeline failed: %w", err)
	}

	p.processSegments(ctx, m, opts.Workers)

	path, err := m.Save()
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("video", m.Name).
		Str("manifest", path).
		Int("unprocessed", len(m.UnprocessedIndexes())).
		Dur("elapsed", time.Since(start)).
		Msg("preprocessing complete")

	return m, nil
}

// Resume re-runs preprocessing over an existing manifest. Segments already
// marked processed are skipped, which is the defined recovery path after a
// partial failure. The transcript is rebuilt only when it is missing
func (p *Preprocessor) Resume(ctx context.Context, m *manifest.Manifest, workers int) error {
	if len(m.Segments) == 0 {
		return fmt.Errorf("manifest has no planned segments")
	}

	if m.AudioTranscription == nil {
		if err := p.runAudio(ctx, m); err != nil {
			return fmt.Errorf("audio pipeline failed: %w", err)
		}
	}

	p.processSegments(ctx, m, workers)

	if _, err := m.Save(); err != nil {
		return err
	}

	p.logger.Info().
		Str("video", m.Name).
		Int("unprocessed", len(m.UnprocessedIndexes())).
		Msg("re-preprocessing complete")

	return nil
}

// applyPlan writes planning output into the manifest, replacing any
// previous segments
func applyPlan(m *manifest.Manifest, result plan.Result) {
	outputDir := m.ProcessingParams.OutputDirectory

	m.SegmentMetadata = manifest.SegmentMetadata{
		EffectiveDuration: result.EffectiveDuration,
		SegmentCount:      len(result.Segments),
	}

	m.Segments = make([]manifest.Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		name := manifest.SegmentName(s.Index, s.Start, s.End)
		m.Segments = append(m.Segments, manifest.Segment{
			Name:       name,
			FolderPath: filepath.Join(outputDir, name),
			StartTime:  s.Start,
			EndTime:    s.End,
			Duration:   s.Duration,
			FrameCount: s.FrameCount,
			FrameTimes: s.FrameTimes,
		})
	}
}
