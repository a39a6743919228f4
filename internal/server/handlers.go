package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keller/filmstrip/internal/frames"
	"github.com/keller/filmstrip/internal/manifest"
	"github.com/keller/filmstrip/internal/preprocess"
	"github.com/keller/filmstrip/internal/queue"
	"github.com/keller/filmstrip/pkg/util"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload saves a multipart video upload and returns where it landed
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.cfg.MaxUploadMB << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid upload or above the %dMB limit", s.cfg.MaxUploadMB))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("video file field is required"))
		return
	}
	defer file.Close()

	if err := util.EnsureDir(s.cfg.UploadDir); err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to prepare upload directory: %w", err))
		return
	}

	id := uuid.NewString()
	name := util.SanitizeName(filepath.Base(header.Filename))
	path := filepath.Join(s.cfg.UploadDir, id+"_"+name)

	out, err := os.Create(path)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to save upload: %w", err))
		return
	}
	defer out.Close()

	if _, err := out.ReadFrom(file); err != nil {
		util.CleanupFiles(path)
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("failed to write upload: %w", err))
		return
	}

	s.logger.Info().Str("id", id).Str("file", name).Int64("bytes", header.Size).Msg("video uploaded")
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "path": path})
}

// preprocessRequest carries per-run overrides; omitted fields fall back to
// the configured defaults
type preprocessRequest struct {
	VideoPath            string   `json:"video_path"`
	ManifestPath         string   `json:"manifest_path"`
	SegmentLength        *float64 `json:"segment_length"`
	FPS                  *float64 `json:"fps"`
	GenerateTranscript   *bool    `json:"generate_transcript"`
	TrimToNearestSecond  *bool    `json:"trim_to_nearest_second"`
	AllowPartialSegments *bool    `json:"allow_partial_segments"`
	OutputDir            string   `json:"output_directory"`
	Overwrite            bool     `json:"overwrite_output"`
	MaxWorkers           int      `json:"max_workers"`
}

func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	var req preprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	// a manifest path means "resume": re-run only the segments that are
	// not yet processed
	if req.ManifestPath != "" {
		s.handleResume(w, req)
		return
	}

	if req.VideoPath == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("video_path is required"))
		return
	}
	if !util.FileExists(req.VideoPath) {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("video %s not found", req.VideoPath))
		return
	}

	opts := preprocess.Options{
		SegmentLength:        s.defaults.SegmentLength,
		FPS:                  s.defaults.FPS,
		GenerateTranscript:   s.defaults.GenerateTranscript,
		TrimToNearestSecond:  s.defaults.TrimToNearestSecond,
		AllowPartialSegments: s.defaults.AllowPartialSegments,
		OutputDir:            req.OutputDir,
		Overwrite:            req.Overwrite,
		Workers:              s.queue.ClampMaxWorkers(req.MaxWorkers),
	}
	if req.SegmentLength != nil {
		opts.SegmentLength = *req.SegmentLength
	}
	if req.FPS != nil {
		opts.FPS = *req.FPS
	}
	if req.GenerateTranscript != nil {
		opts.GenerateTranscript = *req.GenerateTranscript
	}
	if req.TrimToNearestSecond != nil {
		opts.TrimToNearestSecond = *req.TrimToNearestSecond
	}
	if req.AllowPartialSegments != nil {
		opts.AllowPartialSegments = *req.AllowPartialSegments
	}

	description := "preprocess " + filepath.Base(req.VideoPath)
	record := &JobRecord{
		ID:          uuid.NewString(),
		Kind:        "preprocess",
		Description: description,
		State:       queue.StateQueued,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	work := func() (any, error) {
		s.registry.update(record.ID, func(j *JobRecord) { j.State = queue.StateRunning })

		m, err := s.pre.Run(context.Background(), req.VideoPath, opts)
		if err != nil {
			s.registry.update(record.ID, func(j *JobRecord) {
				j.State = queue.StateFailed
				j.Error = err.Error()
			})
			return nil, err
		}

		s.registry.update(record.ID, func(j *JobRecord) {
			j.State = queue.StateCompleted
			j.ManifestPath = m.VideoManifestPath
		})
		return m.VideoManifestPath, nil
	}

	s.registry.add(record)
	if _, err := s.queue.Submit(work, description); err != nil {
		s.registry.update(record.ID, func(j *JobRecord) {
			j.State = queue.StateFailed
			j.Error = err.Error()
		})
		s.respondQueueError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": record.ID})
}

// handleResume submits a skip-already-processed pass over a persisted
// manifest
func (s *Server) handleResume(w http.ResponseWriter, req preprocessRequest) {
	m, err := manifest.Load(req.ManifestPath)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}

	workers := s.queue.ClampMaxWorkers(req.MaxWorkers)
	description := "resume preprocess " + m.Name
	record := &JobRecord{
		ID:           uuid.NewString(),
		Kind:         "preprocess",
		Description:  description,
		State:        queue.StateQueued,
		ManifestPath: req.ManifestPath,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	work := func() (any, error) {
		s.registry.update(record.ID, func(j *JobRecord) { j.State = queue.StateRunning })

		if err := s.pre.Resume(context.Background(), m, workers); err != nil {
			s.registry.update(record.ID, func(j *JobRecord) {
				j.State = queue.StateFailed
				j.Error = err.Error()
			})
			return nil, err
		}

		s.registry.update(record.ID, func(j *JobRecord) {
			j.State = queue.StateCompleted
			j.ManifestPath = m.VideoManifestPath
		})
		return m.VideoManifestPath, nil
	}

	s.registry.add(record)
	if _, err := s.queue.Submit(work, description); err != nil {
		s.registry.update(record.ID, func(j *JobRecord) {
			j.State = queue.StateFailed
			j.Error = err.Error()
		})
		s.respondQueueError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": record.ID})
}

type analyzeRequest struct {
	ManifestPath string `json:"manifest_path"`
	Lens         string `json:"lens"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.ManifestPath == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("manifest_path is required"))
		return
	}

	// pre-flight: a manifest that does not load cannot be analyzed, and
	// token estimation needs its segment count
	m, err := manifest.Load(req.ManifestPath)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}

	framePaths := collectFramePaths(m)
	if len(framePaths) == 0 {
		s.respondError(w, http.StatusConflict, errors.New("manifest has no processed segments with frames"))
		return
	}

	tokens := s.queue.EstimateTokens(len(m.Segments), req.Lens)
	description := "analyze " + m.Name
	record := &JobRecord{
		ID:           uuid.NewString(),
		Kind:         "analyze",
		Description:  description,
		State:        queue.StateQueued,
		ManifestPath: req.ManifestPath,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	maxDim := s.cfg.FrameMaxDim
	work := func() (any, error) {
		s.registry.update(record.ID, func(j *JobRecord) { j.State = queue.StateRunning })

		result, err := s.runAnalysis(tokens, req.Lens, framePaths, maxDim)
		if err != nil {
			s.registry.update(record.ID, func(j *JobRecord) {
				j.State = queue.StateFailed
				j.Error = err.Error()
			})
			return nil, err
		}

		s.registry.update(record.ID, func(j *JobRecord) {
			j.State = queue.StateCompleted
			j.Result = result
		})
		return result, nil
	}

	s.registry.add(record)
	if _, err := s.queue.Submit(work, description); err != nil {
		s.registry.update(record.ID, func(j *JobRecord) {
			j.State = queue.StateFailed
			j.Error = err.Error()
		})
		s.respondQueueError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":           record.ID,
		"estimated_tokens": tokens,
	})
}

// runAnalysis is the analysis job body: pay the token budget, build the
// frame payload, call the model. Tokens are spent on admission and stay
// spent even when the model call fails
func (s *Server) runAnalysis(tokens int64, lens string, framePaths []string, maxDim int) (string, error) {
	if err := s.queue.ConsumeTokens(tokens); err != nil {
		return "", err
	}

	urls, err := frames.EncodeForVision(framePaths, maxDim)
	if err != nil {
		return "", err
	}

	return s.analyzer.Analyze(context.Background(), lens, urls)
}

// collectFramePaths gathers frames from processed segments in timeline order
func collectFramePaths(m *manifest.Manifest) []string {
	var paths []string
	for i := range m.Segments {
		if m.Segments[i].Processed {
			paths = append(paths, m.Segments[i].FramePaths...)
		}
	}
	return paths
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok := s.registry.get(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("job %s not found", id))
		return
	}
	s.respondJSON(w, http.StatusOK, record)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	bucket := s.queue.Bucket()
	s.respondJSON(w, http.StatusOK, map[string]int64{
		"pending_jobs":     int64(s.queue.Pending()),
		"tokens_available": bucket.Available(),
		"token_capacity":   bucket.Capacity(),
	})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("path query parameter is required"))
		return
	}

	m, err := manifest.Load(path)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

// handleJobEvents streams job state changes over a WebSocket, starting
// with the current snapshot
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, ok := s.registry.get(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("job %s not found", id))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s.registry.subscribe(id, conn)
	_ = conn.WriteJSON(record)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.registry.unsubscribe(id, conn)
	_ = conn.Close()
}

func (s *Server) respondQueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		s.respondError(w, http.StatusConflict, err)
	case errors.Is(err, queue.ErrQueueClosed):
		s.respondError(w, http.StatusServiceUnavailable, err)
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, err error) {
	s.respondJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
