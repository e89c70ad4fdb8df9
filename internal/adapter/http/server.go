package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
	"github.com/couchcryptid/nightlight-qc/internal/observability"
	"github.com/couchcryptid/nightlight-qc/internal/render"
)

// Assessor assesses one scene on demand.
type Assessor interface {
	Assess(ctx context.Context, req domain.SceneRequest) (*domain.Assessment, error)
}

// errSceneForbidden rejects scenes the assess endpoint does not serve.
var errSceneForbidden = errors.New("scene is not served over http")

// Server exposes health, readiness, metrics, and on-demand assessment endpoints.
type Server struct {
	httpServer *http.Server
	assessor   Assessor
	logger     *slog.Logger

	// sceneRoot bounds local paths accepted by POST /assess; realRoot is the
	// same directory with symlinks resolved.
	sceneRoot string
	realRoot  string
}

// ServerOption tunes a Server.
type ServerOption func(*Server)

// WithSceneRoot lets POST /assess read local scenes under root. Without it
// only s3:// scenes are assessed over HTTP.
func WithSceneRoot(root string) ServerOption {
	return func(s *Server) {
		if root == "" {
			return
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		s.sceneRoot = filepath.Clean(root)
		s.realRoot = s.sceneRoot
		if real, err := filepath.EvalSymlinks(s.sceneRoot); err == nil {
			s.realRoot = real
		}
	}
}

// NewServer creates an HTTP server with /healthz, /readyz, and /metrics
// routes, plus POST /assess when assessor is non-nil.
func NewServer(addr string, ready sharedobs.ReadinessChecker, assessor Assessor, logger *slog.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		assessor: assessor,
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	if assessor != nil {
		mux.HandleFunc("POST /assess", s.handleAssess)
	}

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleAssess accepts the same body as a Kafka scene request and answers
// with the report as JSON, or as the console rendering with ?format=text.
func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req, err := domain.ParseSceneRequest(domain.RawEvent{Value: body, Headers: map[string]string{
		"variant": r.URL.Query().Get("variant"),
	}})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Scene, err = s.servedScene(req.Scene); err != nil {
		s.logger.Warn("assess request rejected", "scene", req.Scene, "error", err)
		writeError(w, http.StatusForbidden, err)
		return
	}

	a, err := s.assessor.Assess(r.Context(), req)
	if err != nil {
		s.logger.Warn("on-demand assessment failed", "scene", req.Scene, "error", err)
		writeError(w, statusFor(err), err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := render.Text(w, a.Report); err != nil {
			s.logger.Warn("write text report", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, a.Report)
}

// servedScene admits s3:// scenes and local paths inside the scene root. A
// relative path is resolved against the root.
func (s *Server) servedScene(scene string) (string, error) {
	if scheme, _, ok := strings.Cut(scene, "://"); ok {
		if strings.EqualFold(scheme, "s3") {
			return scene, nil
		}
		return scene, errSceneForbidden
	}
	if s.sceneRoot == "" {
		return scene, errSceneForbidden
	}
	path := scene
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.sceneRoot, path)
	}
	path = filepath.Clean(path)
	if !within(s.sceneRoot, path) {
		return scene, errSceneForbidden
	}
	if real, err := filepath.EvalSymlinks(path); err == nil && !within(s.realRoot, real) {
		return scene, errSceneForbidden
	}
	return path, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func statusFor(err error) int {
	switch observability.Classify(err) {
	case observability.ClassBadRequest:
		return http.StatusBadRequest
	case observability.ClassSceneUnreadable:
		return http.StatusNotFound
	case observability.ClassSchemaMismatch, observability.ClassShapeMismatch:
		return http.StatusUnprocessableEntity
	case observability.ClassCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
