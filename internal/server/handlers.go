package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/zerogex/internal/gex"
	"github.com/dgnsrekt/zerogex/internal/metrics"
)

// Calculator runs one GEX calculation pass.
type Calculator interface {
	CalculateCurrentGEX(ctx context.Context, req gex.Request) (*gex.Result, error)
}

// Analyzer answers questions about stored metrics.
type Analyzer interface {
	SummarizeCurrentState(ctx context.Context, symbol string) (*gex.Summary, error)
	FindKeyGammaLevels(ctx context.Context, symbol string, thresholdMillions float64) (*gex.KeyLevels, error)
	AnalyzeGammaRegimeChanges(ctx context.Context, symbol string, window time.Duration) (iter.Seq[gex.RegimeTransition], error)
	CalculateExpectedMove(ctx context.Context, symbol string, confidence float64) (*gex.ExpectedMove, error)
}

// Publisher receives metrics produced by on-demand calculations.
type Publisher interface {
	Publish(m *gex.GEXMetrics)
}

// Options holds query parameter defaults.
type Options struct {
	Expiration        time.Time // zero means today
	ThresholdMillions float64
	Confidence        float64
	RegimeWindow      time.Duration
	HistoryWindow     time.Duration
	Now               func() time.Time
}

type Server struct {
	calc      Calculator
	analyzer  Analyzer
	history   gex.HistoryReader
	publisher Publisher
	recorder  *metrics.Recorder
	opts      Options
	logger    *zap.Logger
}

// NewServer creates a Server. publisher and recorder may be nil.
func NewServer(calc Calculator, analyzer Analyzer, history gex.HistoryReader, publisher Publisher, recorder *metrics.Recorder, opts Options, logger *zap.Logger) *Server {
	if opts.RegimeWindow <= 0 {
		opts.RegimeWindow = 24 * time.Hour
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = 24 * time.Hour
	}
	if opts.Confidence <= 0 {
		opts.Confidence = 0.68
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		calc:      calc,
		analyzer:  analyzer,
		history:   history,
		publisher: publisher,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type regimesResponse struct {
	Symbol      string                 `json:"symbol"`
	Window      string                 `json:"window"`
	Transitions []gex.RegimeTransition `json:"transitions"`
}

type calculateResponse struct {
	Metrics *gex.GEXMetrics          `json:"metrics"`
	Profile []gex.StrikeGammaProfile `json:"profile"`
}

var symbolPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.]{0,9}$`)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	out, err := s.analyzer.SummarizeCurrentState(r.Context(), symbol)
	if err != nil {
		s.writeError(w, "summary", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) levels(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	threshold, err := floatParam(r, "threshold", s.opts.ThresholdMillions)
	if err != nil {
		s.writeError(w, "levels", err)
		return
	}
	out, err := s.analyzer.FindKeyGammaLevels(r.Context(), symbol, threshold)
	if err != nil {
		s.writeError(w, "levels", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) regimes(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	window, err := durationParam(r, "window", s.opts.RegimeWindow)
	if err != nil {
		s.writeError(w, "regimes", err)
		return
	}
	seq, err := s.analyzer.AnalyzeGammaRegimeChanges(r.Context(), symbol, window)
	if err != nil {
		s.writeError(w, "regimes", err)
		return
	}
	transitions := slices.Collect(seq)
	if transitions == nil {
		transitions = []gex.RegimeTransition{}
	}
	writeJSON(w, http.StatusOK, regimesResponse{Symbol: symbol, Window: window.String(), Transitions: transitions})
}

func (s *Server) expectedMove(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	confidence, err := floatParam(r, "confidence", s.opts.Confidence)
	if err != nil {
		s.writeError(w, "expected-move", fmt.Errorf("%w: %v", gex.ErrInvalidConfidence, err))
		return
	}
	out, err := s.analyzer.CalculateExpectedMove(r.Context(), symbol, confidence)
	if err != nil {
		s.writeError(w, "expected-move", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	since := s.opts.Now().Add(-s.opts.HistoryWindow)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, "history", fmt.Errorf("%w: since: %v", errBadRequest, err))
			return
		}
		since = t
	}
	rows, err := s.history.MetricsHistory(r.Context(), symbol, since)
	if err != nil {
		s.writeError(w, "history", err)
		return
	}
	if rows == nil {
		rows = []gex.GEXMetrics{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) calculate(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	req := gex.Request{Symbol: symbol, Expiration: s.opts.Expiration}
	if v := r.URL.Query().Get("price"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(w, "calculate", fmt.Errorf("%w: %v", gex.ErrInvalidPrice, err))
			return
		}
		req.Price = &p
	}
	if v := r.URL.Query().Get("expiration"); v != "" {
		exp, err := gex.ParseDate(v)
		if err != nil {
			s.writeError(w, "calculate", fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		req.Expiration = exp
	}

	res, err := s.calc.CalculateCurrentGEX(r.Context(), req)
	if err != nil {
		s.writeError(w, "calculate", err)
		return
	}
	if s.recorder != nil {
		s.recorder.RecordCalculation(res.Metrics)
	}
	if s.publisher != nil {
		s.publisher.Publish(res.Metrics)
	}
	writeJSON(w, http.StatusOK, calculateResponse{Metrics: res.Metrics, Profile: res.Profile})
}

func (s *Server) symbol(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	if !symbolPattern.MatchString(symbol) {
		s.writeError(w, "symbol", fmt.Errorf("%w: %q", gex.ErrInvalidSymbol, chi.URLParam(r, "symbol")))
		return "", false
	}
	return symbol, true
}

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, gex.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, gex.ErrInvalidPrice),
		errors.Is(err, gex.ErrInvalidConfidence),
		errors.Is(err, gex.ErrInvalidSymbol),
		errors.Is(err, gex.ErrInvalidThreshold),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	if s.recorder != nil {
		s.recorder.RecordError(op, metrics.ErrorKind(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func floatParam(r *http.Request, name string, def float64) (float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", errBadRequest, name, err)
	}
	return f, nil
}

func durationParam(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive duration", errBadRequest, name)
	}
	return d, nil
}
