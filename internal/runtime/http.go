package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/loqalabs/versecast/internal/hls"
	"github.com/loqalabs/versecast/internal/protocol"
)

func init() {
	_ = mime.AddExtensionType(".m3u8", "application/vnd.apple.mpegurl")
}

type chapterStatus struct {
	ChapterKey      string                 `json:"chapter_key"`
	Exists          bool                   `json:"exists"`
	Complete        bool                   `json:"complete"`
	ManifestRef     string                 `json:"manifest_ref,omitempty"`
	SegmentCount    int                    `json:"segment_count"`
	TotalDurationMS int64                  `json:"total_duration_ms"`
	Timings         []protocol.VerseTiming `json:"timings,omitempty"`
	Valid           bool                   `json:"valid"`
	ValidationError string                 `json:"validation_error,omitempty"`
	Generating      bool                   `json:"generating"`
}

type runSummary struct {
	ID              string    `json:"id"`
	Mode            string    `json:"mode"`
	Priority        string    `json:"priority"`
	Status          string    `json:"status"`
	Error           string    `json:"error,omitempty"`
	Segments        int       `json:"segments"`
	TotalDurationMS int64     `json:"total_duration_ms"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metricsHandler != nil {
		mux.Handle("/metrics", r.metricsHandler)
	}
	mux.Handle("/media/", http.StripPrefix("/media/", http.FileServer(http.Dir(r.cfg.Storage.Root))))
	mux.HandleFunc("GET /v1/chapters/{key}", r.handleChapter)
	mux.HandleFunc("DELETE /v1/chapters/{key}", r.handleDeleteChapter)
	mux.HandleFunc("GET /v1/chapters/{key}/runs", r.handleRuns)
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.service == nil || r.service.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleChapter(w http.ResponseWriter, req *http.Request) {
	key := req.PathValue("key")
	status := chapterStatus{ChapterKey: key}
	status.Generating = r.builder.Claimed(key)

	ref, ok := r.builder.Manifest(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, status)
		return
	}
	status.Exists = true
	status.ManifestRef = ref
	status.Complete = r.builder.IsComplete(key)

	state, err := r.builder.Resume(key)
	if err == nil {
		status.SegmentCount = len(state.Segments)
		status.TotalDurationMS = state.TotalDuration().Milliseconds()
		for _, t := range state.Timings() {
			status.Timings = append(status.Timings, protocol.VerseTiming{Verse: t.Verse, StartMS: t.Start.Milliseconds(), EndMS: t.End.Milliseconds()})
		}
	}

	if err := r.builder.Validate(key); err != nil {
		status.ValidationError = err.Error()
		var missing *hls.SegmentMissingError
		if !errors.As(err, &missing) && !errors.Is(err, hls.ErrInvalidManifestFormat) {
			r.logger.Warn("chapter validation failed", slog.String("chapter", key), slog.String("error", err.Error()))
		}
	} else {
		status.Valid = true
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Runtime) handleDeleteChapter(w http.ResponseWriter, req *http.Request) {
	key := req.PathValue("key")
	if err := r.builder.Delete(key); err != nil {
		if errors.Is(err, hls.ErrChapterBusy) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "chapter is being generated"})
			return
		}
		r.logger.Error("delete chapter failed", slog.String("chapter", key), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleRuns(w http.ResponseWriter, req *http.Request) {
	runs, err := r.ledger.ListRuns(req.Context(), req.PathValue("key"), 20)
	if err != nil {
		r.logger.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
		return
	}
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, runSummary{
			ID:              run.ID,
			Mode:            run.Mode,
			Priority:        run.Priority,
			Status:          string(run.Status),
			Error:           run.Error,
			Segments:        run.Segments,
			TotalDurationMS: run.TotalDuration.Milliseconds(),
			StartedAt:       run.StartedAt,
			FinishedAt:      run.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
