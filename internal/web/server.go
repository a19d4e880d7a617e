// Package web serves the single-page UI and its JSON API.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"product-script-studio/internal/analysis"
	"product-script-studio/internal/photo"
	"product-script-studio/internal/pipeline"
	"product-script-studio/internal/script"
	"product-script-studio/internal/session"
)

//go:embed static/*
var staticFS embed.FS

const (
	sessionCookie         = "sid"
	defaultMaxUploadBytes = 25 << 20
)

type Options struct {
	Pipeline       *pipeline.Service
	Logger         *slog.Logger
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

type Server struct {
	pipeline  *pipeline.Service
	logger    *slog.Logger
	maxUpload int64
	timeout   time.Duration
	router    *mux.Router
}

type apiError struct {
	Error string `json:"error"`
}

type stateResponse struct {
	HasCredentials bool             `json:"has_credentials"`
	Models         []string         `json:"models"`
	SelectedModel  string           `json:"selected_model,omitempty"`
	CanGenerate    bool             `json:"can_generate"`
	Analysis       *analysis.Result `json:"analysis,omitempty"`
	Scripts        []script.Block   `json:"scripts,omitempty"`
	HasImage       bool             `json:"has_image"`
}

type removalResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}

type analysisResponse struct {
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	RateLimited bool   `json:"rate_limited,omitempty"`
	Cooldown    string `json:"cooldown,omitempty"`
}

type generateResponse struct {
	Model    string           `json:"model"`
	Removal  removalResponse  `json:"removal"`
	Analysis analysisResponse `json:"analysis"`
	State    stateResponse    `json:"state"`
}

type credentialsRequest struct {
	GeminiKey   string `json:"gemini_key"`
	RemoveBGKey string `json:"removebg_key"`
}

type modelRequest struct {
	Model string `json:"model"`
}

func New(opts Options) (*Server, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("pipeline is nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 240 * time.Second
	}

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, err
	}

	s := &Server{
		pipeline:  opts.Pipeline,
		logger:    logger,
		maxUpload: maxUpload,
		timeout:   timeout,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/credentials", s.handleCredentials).Methods(http.MethodPost)
	api.HandleFunc("/models/refresh", s.handleRefreshModels).Methods(http.MethodPost)
	api.HandleFunc("/model", s.handleSelectModel).Methods(http.MethodPost)
	api.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/processed.png", s.handleProcessed).Methods(http.MethodGet)
	api.HandleFunc("/scripts.txt", s.handleScripts).Methods(http.MethodGet)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)
	api.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
	})
	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
	})

	r.PathPrefix("/").Handler(http.FileServer(http.FS(staticSub))).Methods(http.MethodGet)

	s.router = r
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return withLogging(s.router, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	writeJSON(w, http.StatusOK, s.state(id))
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	var req credentialsRequest
	if isJSON(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body"})
			return
		}
	} else {
		req.GeminiKey = r.FormValue("gemini_key")
		req.RemoveBGKey = r.FormValue("removebg_key")
	}

	err := s.pipeline.SetCredentials(id, session.Credentials{
		GeminiKey:   req.GeminiKey,
		RemoveBGKey: req.RemoveBGKey,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "please enter both API keys: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.state(id))
}

func (s *Server) handleRefreshModels(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if _, err := s.pipeline.RefreshModels(ctx, id); err != nil {
		writeJSON(w, statusFor(err), apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.state(id))
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	var req modelRequest
	if isJSON(r) {
		if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body"})
			return
		}
	} else {
		req.Model = r.FormValue("model")
	}

	if err := s.pipeline.SelectModel(id, strings.TrimSpace(req.Model)); err != nil {
		writeJSON(w, statusFor(err), apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.state(id))
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Error: "image is too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: pipeline.ErrNoImage.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "failed to read image"})
		return
	}

	img, err := photo.New(data, header.Header.Get("Content-Type"))
	if err != nil {
		writeJSON(w, http.StatusUnsupportedMediaType, apiError{Error: err.Error()})
		return
	}

	// The chain outlives a dropped client. Only the server timeout stops it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.timeout)
	defer cancel()

	out, err := s.pipeline.Generate(ctx, id, r.FormValue("model"), img)
	if err != nil {
		writeJSON(w, statusFor(err), apiError{Error: err.Error()})
		return
	}

	resp := generateResponse{
		Model: out.Model,
		Removal: removalResponse{
			OK:     out.Removal.OK(),
			Status: out.Removal.Status(),
		},
		Analysis: analysisResponse{OK: out.Analysis.OK()},
		State:    s.state(id),
	}
	if !out.Analysis.OK() {
		resp.Analysis.Error = out.Analysis.Err.Error()
		if out.Analysis.RateLimited() {
			resp.Analysis.RateLimited = true
			resp.Analysis.Cooldown = pipeline.CooldownMessage
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcessed(w http.ResponseWriter, r *http.Request) {
	view := s.pipeline.View(s.sessionID(w, r))
	if !view.ResultsVisible() || view.Processed == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no processed image yet"})
		return
	}

	data := view.Processed.PNG()
	w.Header().Set("content-type", photo.DownloadMIME)
	w.Header().Set("content-disposition", `attachment; filename="`+photo.DownloadName+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	view := s.pipeline.View(s.sessionID(w, r))
	if !view.ResultsVisible() {
		writeJSON(w, http.StatusNotFound, apiError{Error: "no scripts yet"})
		return
	}

	w.Header().Set("content-type", "text/plain; charset=utf-8")
	w.Header().Set("content-disposition", `attachment; filename="scripts.txt"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, view.Scripts.String())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := s.sessionID(w, r)
	s.pipeline.Reset(id)
	writeJSON(w, http.StatusOK, s.state(id))
}

func (s *Server) state(id string) stateResponse {
	view := s.pipeline.View(id)
	resp := stateResponse{
		HasCredentials: view.HasCredentials,
		Models:         view.Models,
		SelectedModel:  view.SelectedModel(),
		CanGenerate:    view.CanGenerate(),
	}
	if resp.Models == nil {
		resp.Models = []string{}
	}
	if view.ResultsVisible() {
		resp.Analysis = view.Analysis
		resp.Scripts = view.Scripts.Blocks()
		resp.HasImage = view.Processed != nil
	}
	return resp
}

// sessionID returns the caller's session id, issuing a new cookie when the
// request has none or carries a malformed one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrMissingCredential),
		errors.Is(err, pipeline.ErrNoImage),
		errors.Is(err, pipeline.ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNoModels):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrModelDirectory):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(strings.TrimSpace(r.Header.Get("content-type")), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
