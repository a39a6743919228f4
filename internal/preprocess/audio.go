package preprocess

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/keller/filmstrip/internal/ffmpeg"
	"github.com/keller/filmstrip/internal/manifest"
	"github.com/keller/filmstrip/internal/worker"
	"github.com/keller/filmstrip/pkg/util"
)

// directTranscribeLimitMB is the upload ceiling of hosted transcription
// services; audio above it must be chunked
const directTranscribeLimitMB = 25

// transcriptionWorkers bounds parallel transcription calls. Two is the
// polite ceiling for a shared external service, and keeping it separate
// from the extraction pool means transcription never starves extraction
const transcriptionWorkers = 2

// chunkWindow is one audio slice in source-timeline seconds
type chunkWindow struct {
	Start float64
	End   float64
}

// runAudio extracts the audio track, transcribes it (chunked when too
// large for a single upload), and attaches the stitched transcript to the
// manifest. Skipped entirely when the source has no audio or transcripts
// are disabled; any chunk failure fails the whole pipeline
func (p *Preprocessor) runAudio(ctx context.Context, m *manifest.Manifest) error {
	if !m.ProcessingParams.GenerateTranscript {
		p.logger.Debug().Str("video", m.Name).Msg("transcript generation disabled, skipping audio")
		return nil
	}
	if !m.SourceVideo.HasAudio {
		p.logger.Info().Str("video", m.Name).Msg("source has no audio track, skipping transcript")
		return nil
	}

	start := time.Now()
	outputDir := m.ProcessingParams.OutputDirectory
	audioPath := filepath.Join(outputDir, "audio.mp3")

	if err := p.media.ExtractAudio(ctx, m.SourceVideo.Path, audioPath); err != nil {
		return fmt.Errorf("full audio extraction failed: %w", err)
	}

	sizeMB, err := util.FileSizeMB(audioPath)
	if err != nil {
		return fmt.Errorf("failed to stat extracted audio: %w", err)
	}

	var result *manifest.TranscriptionResult
	if sizeMB <= directTranscribeLimitMB {
		p.logger.Info().
			Str("video", m.Name).
			Float64("size_mb", sizeMB).
			Msg("transcribing audio in one call")

		result, err = p.transcriber.Transcribe(ctx, audioPath)
		if err != nil {
			return fmt.Errorf("transcription failed: %w", err)
		}
	} else {
		result, err = p.transcribeChunked(ctx, m, audioPath, sizeMB)
		if err != nil {
			return err
		}
	}

	m.AudioTranscription = result

	p.logger.Info().
		Str("video", m.Name).
		Int("words", len(result.Words)).
		Float64("transcript_duration", result.Duration).
		Dur("elapsed", time.Since(start)).
		Msg("transcript attached")

	return nil
}

// transcribeChunked splits oversized audio into time slices, extracts and
// transcribes them in parallel, and stitches the results back together
// strictly by chunk index. Chunks finish in any order; the timeline does
// not care because each result is offset by its own start before merging
func (p *Preprocessor) transcribeChunked(ctx context.Context, m *manifest.Manifest, audioPath string, sizeMB float64) (*manifest.TranscriptionResult, error) {
	duration := m.SourceVideo.AudioDuration
	if duration <= 0 {
		duration = m.SourceVideo.Duration
	}

	chunks := planChunks(sizeMB, p.chunkMB, duration)
	outputDir := m.ProcessingParams.OutputDirectory

	p.logger.Info().
		Str("video", m.Name).
		Float64("size_mb", sizeMB).
		Int("chunks", len(chunks)).
		Msg("audio exceeds single-upload limit, chunking")

	extractWorkers := runtime.NumCPU()
	paths, err := worker.Process(ctx, chunks, extractWorkers, func(ctx context.Context, job worker.Job[chunkWindow]) (string, error) {
		out := filepath.Join(outputDir, fmt.Sprintf("audio_chunk_%d.mp3", job.Index))
		err := p.media.ExtractAudioChunk(ctx, audioPath, ffmpeg.AudioChunkOptions{
			Start:  job.Data.Start,
			End:    job.Data.End,
			Output: out,
		})
		return out, err
	})
	if err != nil {
		return nil, fmt.Errorf("audio chunk extraction failed: %w", err)
	}
	defer util.CleanupFiles(paths...)

	results, err := worker.Process(ctx, paths, transcriptionWorkers, func(ctx context.Context, job worker.Job[string]) (*manifest.TranscriptionResult, error) {
		return p.transcriber.Transcribe(ctx, job.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("audio chunk transcription failed: %w", err)
	}

	combined := &manifest.TranscriptionResult{}
	for i, r := range results {
		r.Offset(chunks[i].Start)
		combined.Append(r)
	}

	return combined, nil
}

// planChunks divides the audio timeline into evenly sized windows. The
// count comes from the size divisor; a floor of two keeps every chunk
// comfortably under the single-upload limit. The last window absorbs any
// floating point remainder so coverage always reaches the full duration
func planChunks(sizeMB, chunkMB, duration float64) []chunkWindow {
	count := int(sizeMB / chunkMB)
	if count < 2 {
		count = 2
	}

	chunkDuration := duration / float64(count)
	windows := make([]chunkWindow, count)
	for c := 0; c < count; c++ {
		windows[c] = chunkWindow{
			Start: float64(c) * chunkDuration,
			End:   float64(c+1) * chunkDuration,
		}
	}
	windows[count-1].End = duration

	return windows
}
