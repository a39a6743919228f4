package ffmpeg

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/keller/filmstrip/pkg/util"
)

// ExtractSegment cuts [Start, End] from the source into its own container
// without re-encoding. Seeking happens before the input so the cut lands
// on the nearest keyframe, which is what frame sampling wants: fast and
// tolerant of imprecise boundaries
func (e *Executor) ExtractSegment(ctx context.Context, input string, opts SegmentOptions) error {
	if opts.End <= opts.Start {
		return fmt.Errorf("invalid segment window: end must be after start")
	}

	e.logger.Debug().
		Str("input", input).
		Str("output", opts.Output).
		Float64("start", opts.Start).
		Float64("end", opts.End).
		Msg("extracting segment")

	args := []string{
		"-ss", util.FormatSeconds(opts.Start),
		"-to", util.FormatSeconds(opts.End),
		"-i", input,
		"-c", "copy",
		opts.Output,
	}

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("segment extraction")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("segment extraction failed: %w", err)
	}

	return nil
}

// SampleFrames decodes the input and writes frames at the requested rate
// as high quality JPEGs named by the sequential FramePattern
func (e *Executor) SampleFrames(ctx context.Context, input string, opts FrameOptions) error {
	if opts.FPS <= 0 {
		return fmt.Errorf("sampling fps must be positive")
	}
	if opts.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}

	filter := NewFilterBuilder().FPS(opts.FPS).Build()
	pattern := filepath.Join(opts.OutputDir, FramePattern)

	e.logger.Debug().
		Str("input", input).
		Str("pattern", pattern).
		Float64("fps", opts.FPS).
		Msg("sampling frames")

	args := []string{
		"-i", input,
		"-vf", filter,
		"-q:v", "2",
		pattern,
	}

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("frame sampling")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("frame sampling failed: %w", err)
	}

	return nil
}

// ExtractAudio pulls the full audio track into a standalone file at the
// best VBR quality the target container supports
func (e *Executor) ExtractAudio(ctx context.Context, input, output string) error {
	e.logger.Debug().
		Str("input", input).
		Str("output", output).
		Msg("extracting audio")

	args := []string{
		"-i", input,
		"-q:a", "0",
		"-map", "a",
		output,
	}

	opts := RunOptions{
		Args: args,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("audio extraction")
		},
	}

	if err := e.Run(ctx, opts); err != nil {
		return fmt.Errorf("audio extraction failed: %w", err)
	}

	return nil
}

// ExtractAudioChunk pulls a time slice of the audio track straight from
// the source container
func (e *Executor) ExtractAudioChunk(ctx context.Context, input string, opts AudioChunkOptions) error {
	if opts.End <= opts.Start {
		return fmt.Errorf("invalid chunk window: end must be after start")
	}

	e.logger.Debug().
		Str("input", input).
		Str("output", opts.Output).
		Float64("start", opts.Start).
		Float64("end", opts.End).
		Msg("extracting audio chunk")

	args := []string{
		"-i", input,
		"-ss", util.FormatSeconds(opts.Start),
		"-to", util.FormatSeconds(opts.End),
		"-q:a", "0",
		"-map", "a",
		opts.Output,
	}

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("chunk extraction")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("audio chunk extraction failed: %w", err)
	}

	return nil
}
