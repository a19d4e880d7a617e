// Package pipeline runs the two user actions, refreshing the model list and
// generating from a product photo, against one session's state.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"product-script-studio/internal/analysis"
	"product-script-studio/internal/gemini"
	"product-script-studio/internal/metrics"
	"product-script-studio/internal/photo"
	"product-script-studio/internal/removebg"
	"product-script-studio/internal/script"
	"product-script-studio/internal/session"
)

type BackgroundRemover interface {
	Remove(ctx context.Context, apiKey string, data []byte) (*photo.Processed, error)
}

type Options struct {
	Provider gemini.Provider
	Remover  BackgroundRemover
	Sessions *session.Store
	Logger   *slog.Logger
}

type Service struct {
	provider  gemini.Provider
	remover   BackgroundRemover
	directory *Directory
	sessions  *session.Store
	logger    *slog.Logger
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Service{
		provider:  opts.Provider,
		remover:   opts.Remover,
		directory: NewDirectory(opts.Provider, logger),
		sessions:  opts.Sessions,
		logger:    logger,
	}
}

type RemovalOutcome struct {
	Image *photo.Processed
	Err   error
}

func (o RemovalOutcome) OK() bool {
	return o.Image != nil
}

func (o RemovalOutcome) Status() string {
	if o.OK() {
		return "success"
	}
	var removalErr *RemovalError
	if errors.As(o.Err, &removalErr) {
		return removalErr.Status()
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return ""
}

type AnalysisOutcome struct {
	Result *analysis.Result
	Raw    string
	Err    error
}

func (o AnalysisOutcome) OK() bool {
	return o.Result != nil
}

func (o AnalysisOutcome) RateLimited() bool {
	return errors.Is(o.Err, ErrRateLimited)
}

// Outcome reports both stages; one failing never hides the other.
type Outcome struct {
	Model    string
	Removal  RemovalOutcome
	Analysis AnalysisOutcome
	Scripts  *script.Scripts
}

// View is what a surface renders for a session. Results (scripts and the
// processed image) only appear once an analysis exists.
type View struct {
	HasCredentials bool
	Models         []string
	DefaultIndex   int
	SelectedIndex  int
	Analysis       *analysis.Result
	Scripts        *script.Scripts
	Processed      *photo.Processed
}

func (v View) CanGenerate() bool {
	return v.HasCredentials && len(v.Models) > 0
}

func (v View) ResultsVisible() bool {
	return v.Analysis != nil
}

func (v View) SelectedModel() string {
	if v.SelectedIndex < 0 || v.SelectedIndex >= len(v.Models) {
		return ""
	}
	return v.Models[v.SelectedIndex]
}

func (s *Service) SetCredentials(sessionID string, creds session.Credentials) error {
	creds, err := CheckCredentials(creds)
	s.sessions.Update(sessionID, func(st *session.State) {
		st.Credentials = creds
	})
	return err
}

func (s *Service) RefreshModels(ctx context.Context, sessionID string) ([]string, error) {
	st := s.sessions.Snapshot(sessionID)
	creds, err := CheckCredentials(st.Credentials)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	models := s.directory.Fetch(ctx, creds.GeminiKey)
	if len(models) == 0 {
		metrics.ModelRefreshTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, ErrModelDirectory
	}
	metrics.ModelRefreshTotal.WithLabelValues(metrics.ResultOK).Inc()

	s.sessions.Update(sessionID, func(st *session.State) {
		st.Models = models
		if !contains(models, st.SelectedModel) {
			st.SelectedModel = ""
		}
	})

	s.logger.Info("models refreshed", "count", len(models), "dur_ms", time.Since(start).Milliseconds())
	return models, nil
}

func (s *Service) SelectModel(sessionID, model string) error {
	st := s.sessions.Snapshot(sessionID)
	if len(st.Models) == 0 {
		return ErrNoModels
	}
	if !contains(st.Models, model) {
		return ErrUnknownModel
	}
	s.sessions.Update(sessionID, func(st *session.State) { st.SelectedModel = model })
	return nil
}

// Generate runs background removal and then analysis, sequentially. The
// returned error covers preconditions only; stage failures live in Outcome.
func (s *Service) Generate(ctx context.Context, sessionID, model string, img *photo.Photo) (Outcome, error) {
	st := s.sessions.Snapshot(sessionID)
	creds, err := CheckCredentials(st.Credentials)
	if err != nil {
		return Outcome{}, err
	}
	if img == nil {
		return Outcome{}, ErrNoImage
	}
	if len(st.Models) == 0 {
		return Outcome{}, ErrNoModels
	}

	model = strings.TrimSpace(model)
	if model == "" {
		model = selectedModel(st)
	}
	if !contains(st.Models, model) {
		return Outcome{}, ErrUnknownModel
	}

	out := Outcome{Model: model}
	out.Removal = s.removeBackground(ctx, creds.RemoveBGKey, img)
	out.Analysis = s.analyze(ctx, creds.GeminiKey, model, img)

	s.sessions.Update(sessionID, func(st *session.State) {
		st.SelectedModel = model
		if out.Removal.OK() {
			st.Processed = out.Removal.Image
		}
		if out.Analysis.OK() {
			result := *out.Analysis.Result
			st.Analysis = &result
		}
	})

	if out.Analysis.OK() {
		scripts := script.Render(*out.Analysis.Result)
		out.Scripts = &scripts
	}
	return out, nil
}

func (s *Service) View(sessionID string) View {
	st := s.sessions.Snapshot(sessionID)
	_, credErr := CheckCredentials(st.Credentials)

	v := View{
		HasCredentials: credErr == nil,
		Models:         st.Models,
		DefaultIndex:   DefaultModelIndex(st.Models),
		SelectedIndex:  indexOf(st.Models, selectedModel(st)),
	}

	if st.Analysis != nil {
		scripts := script.Render(*st.Analysis)
		v.Analysis = st.Analysis
		v.Scripts = &scripts
		v.Processed = st.Processed
	}
	return v
}

func (s *Service) Reset(sessionID string) {
	s.sessions.Clear(sessionID)
}

func (s *Service) removeBackground(ctx context.Context, apiKey string, img *photo.Photo) RemovalOutcome {
	start := time.Now()
	processed, err := s.remover.Remove(ctx, apiKey, img.Bytes())
	metrics.StageDurationSeconds.WithLabelValues(metrics.StageRemoval).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StageTotal.WithLabelValues(metrics.StageRemoval, metrics.ResultError).Inc()
		removalErr := &RemovalError{Reason: err.Error(), Err: err}
		var statusErr *removebg.StatusError
		if errors.As(err, &statusErr) {
			removalErr.StatusCode = statusErr.Code
		}
		s.logger.Warn("background removal failed", "status", removalErr.Status(), "dur_ms", time.Since(start).Milliseconds())
		return RemovalOutcome{Err: removalErr}
	}

	metrics.StageTotal.WithLabelValues(metrics.StageRemoval, metrics.ResultOK).Inc()
	s.logger.Info("background removed", "dur_ms", time.Since(start).Milliseconds())
	return RemovalOutcome{Image: processed}
}

func (s *Service) analyze(ctx context.Context, apiKey, model string, img *photo.Photo) AnalysisOutcome {
	start := time.Now()
	raw, err := s.provider.GenerateContent(ctx, apiKey, model, analysis.Prompt, gemini.ImageInput{
		Data:     img.Bytes(),
		MimeType: img.MIMEType(),
	})
	metrics.StageDurationSeconds.WithLabelValues(metrics.StageAnalysis).Observe(time.Since(start).Seconds())
	if err != nil {
		analysisErr := &AnalysisError{Model: model, RateLimited: gemini.IsQuotaExceeded(err), Err: err}
		result := metrics.ResultError
		if analysisErr.RateLimited {
			result = metrics.ResultRateLimited
		}
		metrics.StageTotal.WithLabelValues(metrics.StageAnalysis, result).Inc()
		s.logger.Warn("analysis failed", "model", model, "rate_limited", analysisErr.RateLimited, "err", err)
		return AnalysisOutcome{Err: analysisErr}
	}

	result := analysis.Parse(raw)
	metrics.StageTotal.WithLabelValues(metrics.StageAnalysis, metrics.ResultOK).Inc()
	s.logger.Info("analysis done", "model", model, "dur_ms", time.Since(start).Milliseconds())
	return AnalysisOutcome{Result: &result, Raw: raw}
}

func selectedModel(st session.State) string {
	if contains(st.Models, st.SelectedModel) {
		return st.SelectedModel
	}
	if len(st.Models) == 0 {
		return ""
	}
	return st.Models[DefaultModelIndex(st.Models)]
}

func contains(list []string, v string) bool {
	return indexOf(list, v) >= 0
}

func indexOf(list []string, v string) int {
	if v == "" {
		return -1
	}
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
