package preprocess

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/keller/filmstrip/internal/ffmpeg"
	"github.com/keller/filmstrip/internal/manifest"
	"github.com/keller/filmstrip/internal/worker"
	"github.com/keller/filmstrip/pkg/util"
)

// segmentContainer is the temporary per-segment cut the frames are sampled
// from; it is removed once sampling succeeds
const segmentContainer = "segment.mp4"

// framesSubdir holds the renamed frame images inside a segment folder
const framesSubdir = "frames"

// processSegments fans unprocessed segments out across the worker pool.
// Workers operate on private copies and hand them back by index; this
// goroutine is the only writer into m.Segments, so no locking is needed.
// A segment failure is logged and recorded, never propagated
func (p *Preprocessor) processSegments(ctx context.Context, m *manifest.Manifest, workers int) {
	indexes := m.UnprocessedIndexes()
	if len(indexes) == 0 {
		p.logger.Info().Str("video", m.Name).Msg("all segments already processed, nothing to do")
		return
	}

	p.logger.Info().
		Str("video", m.Name).
		Int("segments", len(indexes)).
		Int("workers", workers).
		Msg("processing segments")

	start := time.Now()
	source := m.SourceVideo.Path
	fps := m.ProcessingParams.FPS
	transcript := m.AudioTranscription

	results := worker.ProcessAll(ctx, indexes, workers, func(ctx context.Context, job worker.Job[int]) (manifest.Segment, error) {
		seg := m.Segments[job.Data]
		err := p.processOne(ctx, source, &seg, fps, transcript)
		return seg, err
	})

	failed := 0
	for _, r := range results {
		idx := indexes[r.Index]
		if r.Err != nil {
			failed++
			p.logger.Error().
				Err(r.Err).
				Str("segment", m.Segments[idx].Name).
				Msg("segment processing failed")
			m.Segments[idx].Processed = false
			continue
		}
		seg := r.Value
		seg.Processed = true
		m.Segments[idx] = seg
	}

	p.logger.Info().
		Str("video", m.Name).
		Int("succeeded", len(indexes)-failed).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("segment processing finished")
}

// processOne extracts a segment container, samples its frames, and slices
// the transcript to the segment window. It mutates only the private copy
// it is handed
func (p *Preprocessor) processOne(ctx context.Context, source string, seg *manifest.Segment, fps float64, transcript *manifest.TranscriptionResult) error {
	framesDir := filepath.Join(seg.FolderPath, framesSubdir)
	if err := util.EnsureDir(framesDir); err != nil {
		return fmt.Errorf("failed to create segment folders: %w", err)
	}

	container := filepath.Join(seg.FolderPath, segmentContainer)
	if err := p.media.ExtractSegment(ctx, source, ffmpeg.SegmentOptions{
		Start:  seg.StartTime,
		End:    seg.EndTime,
		Output: container,
	}); err != nil {
		return err
	}

	if err := p.media.SampleFrames(ctx, container, ffmpeg.FrameOptions{
		FPS:       fps,
		OutputDir: framesDir,
	}); err != nil {
		util.CleanupFiles(container)
		return err
	}

	paths, err := renameFrames(framesDir, seg.FrameTimes)
	if err != nil {
		util.CleanupFiles(container)
		return err
	}
	seg.FramePaths = paths

	if transcript != nil {
		seg.Transcription = transcript.SliceText(seg.StartTime, seg.EndTime)
	} else {
		seg.Transcription = manifest.NoTranscript
	}

	util.CleanupFiles(container)
	return nil
}

// renameFrames maps the transcoder's sequential frame_%05d.jpg output onto
// the planned sample times so a frame's file name says when it was taken.
// The transcoder occasionally emits one frame more than planned at a
// segment boundary; extras past the plan are dropped
func renameFrames(framesDir string, frameTimes []float64) ([]string, error) {
	entries, err := os.ReadDir(framesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sampled frames: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("frame sampling produced no frames in %s", framesDir)
	}

	var paths []string
	for i, entry := range entries {
		raw := filepath.Join(framesDir, entry.Name())
		if i >= len(frameTimes) {
			util.CleanupFiles(raw)
			continue
		}

		renamed := filepath.Join(framesDir, manifest.FrameFileName(i, frameTimes[i]))
		if err := os.Rename(raw, renamed); err != nil {
			return nil, fmt.Errorf("failed to rename frame %s: %w", entry.Name(), err)
		}
		paths = append(paths, renamed)
	}

	return paths, nil
}
