package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/keller/filmstrip/internal/config"
	"github.com/keller/filmstrip/internal/ffmpeg"
	"github.com/keller/filmstrip/internal/logging"
	"github.com/keller/filmstrip/internal/manifest"
	"github.com/keller/filmstrip/internal/preprocess"
	"github.com/keller/filmstrip/internal/queue"
	"github.com/keller/filmstrip/internal/server"
	"github.com/keller/filmstrip/internal/transcribe"
	"github.com/keller/filmstrip/internal/vision"
)

var (
	cfgFile string
	verbose bool
	jsonLog bool
)

func main() {
	ctx := context.Background()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "filmstrip",
	Short: "filmstrip - video segmentation and analysis toolkit",
	Long:  "Slices videos into fixed-length segments with sampled frames and transcripts, then runs vision-model analysis over them through a rate-limited job queue.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose, jsonLog)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./filmstrip.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLog, "json", false, "raw JSON log output")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(preprocessCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Probe a video and print its metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		exec, err := ffmpeg.New(log.Logger, cfg.FFmpeg.Threads)
		if err != nil {
			return err
		}

		info, err := exec.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		log.Info().
			Str("video", args[0]).
			Float64("duration", info.Duration).
			Float64("fps", info.FPS).
			Int("width", info.Width).
			Int("height", info.Height).
			Bool("has_audio", info.HasAudio).
			Float64("audio_duration", info.AudioDuration).
			Msg("probe complete")

		return nil
	},
}

var (
	segmentLength float64
	framesPerSec  float64
	transcript    bool
	trimSeconds   bool
	partialSegs   bool
	outputDir     string
	overwrite     bool
	workers       int
	resumePath    string
)

var preprocessCmd = &cobra.Command{
	Use:   "preprocess [input video]",
	Short: "Segment a video into frames and transcripts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pre, err := buildPreprocessor(cfg)
		if err != nil {
			return err
		}

		n := clampWorkers(workers, cfg.Queue)

		if resumePath != "" {
			m, err := manifest.Load(resumePath)
			if err != nil {
				return err
			}
			return pre.Resume(cmd.Context(), m, n)
		}

		if len(args) != 1 {
			return errors.New("an input video (or --resume) is required")
		}

		opts := preprocess.Options{
			SegmentLength:        cfg.Preprocess.SegmentLength,
			FPS:                  cfg.Preprocess.FPS,
			GenerateTranscript:   cfg.Preprocess.GenerateTranscript,
			TrimToNearestSecond:  cfg.Preprocess.TrimToNearestSecond,
			AllowPartialSegments: cfg.Preprocess.AllowPartialSegments,
			OutputDir:            outputDir,
			Overwrite:            overwrite,
			Workers:              n,
		}
		if cmd.Flags().Changed("segment-length") {
			opts.SegmentLength = segmentLength
		}
		if cmd.Flags().Changed("fps") {
			opts.FPS = framesPerSec
		}
		if cmd.Flags().Changed("transcript") {
			opts.GenerateTranscript = transcript
		}
		if cmd.Flags().Changed("trim") {
			opts.TrimToNearestSecond = trimSeconds
		}
		if cmd.Flags().Changed("partial") {
			opts.AllowPartialSegments = partialSegs
		}

		m, err := pre.Run(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}

		log.Info().
			Str("manifest", m.VideoManifestPath).
			Int("segments", m.SegmentMetadata.SegmentCount).
			Msg("preprocessing complete")

		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		pre, err := buildPreprocessor(cfg)
		if err != nil {
			return err
		}

		q, err := queue.New(log.Logger, cfg.Queue)
		if err != nil {
			return err
		}

		analyzer := vision.New(log.Logger, cfg.Vision)
		srv := server.New(log.Logger, cfg, q, pre, analyzer)

		httpServer := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: srv.Router(),
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			q.Shutdown(false)
			return err
		case sig := <-stop:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}

		// drain jobs that are already running or queued
		q.Shutdown(true)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "./filmstrip.yaml"
		if len(args) == 1 {
			path = args[0]
		}

		cfg := config.FromContext(cmd.Context())
		if err := cfg.Save(path); err != nil {
			return err
		}

		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

func init() {
	preprocessCmd.Flags().Float64Var(&segmentLength, "segment-length", 10, "segment length in seconds")
	preprocessCmd.Flags().Float64Var(&framesPerSec, "fps", 0.33, "frame sampling rate")
	preprocessCmd.Flags().BoolVar(&transcript, "transcript", true, "generate an audio transcript")
	preprocessCmd.Flags().BoolVar(&trimSeconds, "trim", false, "trim the video duration to a whole second")
	preprocessCmd.Flags().BoolVar(&partialSegs, "partial", true, "keep a shorter trailing segment")
	preprocessCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (default: derived from the video path)")
	preprocessCmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing non-empty output directory")
	preprocessCmd.Flags().IntVar(&workers, "workers", 0, "parallel segment workers (0 = configured default)")
	preprocessCmd.Flags().StringVar(&resumePath, "resume", "", "manifest to resume instead of starting fresh")

	configCmd.AddCommand(configInitCmd)
}

// buildPreprocessor wires ffmpeg and the transcription client into a
// preprocessor
func buildPreprocessor(cfg *config.Config) (*preprocess.Preprocessor, error) {
	exec, err := ffmpeg.New(log.Logger, cfg.FFmpeg.Threads)
	if err != nil {
		return nil, err
	}

	transcriber := transcribe.New(log.Logger, cfg.Transcribe)
	return preprocess.New(log.Logger, exec, transcriber, cfg.Preprocess.ChunkMB), nil
}

// clampWorkers mirrors the queue's bounds for CLI runs that never build a
// queue
func clampWorkers(requested int, cfg config.QueueConfig) int {
	if requested <= 0 {
		return cfg.DefaultPreprocessWorkers
	}
	if requested > cfg.MaxPreprocessWorkers {
		return cfg.MaxPreprocessWorkers
	}
	return requested
}
