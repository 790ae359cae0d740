package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ClearPath-Edu/articulate/core/pkg/audit"
	"github.com/ClearPath-Edu/articulate/core/pkg/cache"
	"github.com/ClearPath-Edu/articulate/core/pkg/canonicalize"
	"github.com/ClearPath-Edu/articulate/core/pkg/engine"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/observability"
	"github.com/ClearPath-Edu/articulate/core/pkg/rulecheck"
	"github.com/ClearPath-Edu/articulate/core/pkg/store"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"
)

const maxBodyBytes = 1 << 20 // 1MB

// Server wires the engine, version store, and result cache behind the
// HTTP API.
type Server struct {
	engine   *engine.Engine
	store    store.Store
	cache    cache.ResultCache
	audit    audit.Logger
	obs      *observability.Provider
	logger   *slog.Logger
	cacheTTL time.Duration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithCache sets the validation result cache. Without one results are
// recomputed on every request.
func WithCache(c cache.ResultCache, ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithAudit sets the audit logger.
func WithAudit(a audit.Logger) ServerOption {
	return func(s *Server) { s.audit = a }
}

// WithObservability sets the telemetry provider used to trace and meter
// validation requests.
func WithObservability(p *observability.Provider) ServerOption {
	return func(s *Server) { s.obs = p }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the API server.
func NewServer(eng *engine.Engine, st store.Store, opts ...ServerOption) *Server {
	s := &Server{
		engine:   eng,
		store:    st,
		audit:    audit.Nop(),
		obs:      observability.Noop(),
		logger:   slog.Default(),
		cacheTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes registers all handlers on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.HandleHealth)
	mux.HandleFunc("/v1/rules/validate", s.HandleValidateRules)
	mux.HandleFunc("/v1/validate", s.HandleValidate)
	return mux
}

// HandleHealth handles the /healthz endpoint.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":         "ok",
		"engine_version": engine.Version,
	})
}

// HandleValidateRules handles POST /v1/rules/validate. The body is a
// raw rule-set document; the response is always a full validation
// result, including for structurally unparseable payloads.
func (s *Server) HandleValidateRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, "Unable to read request body")
		return
	}

	rules, issues := rulecheck.ParseRules(body)
	if len(issues) > 0 {
		agg := validation.NewAggregator(engine.Version)
		agg.MarkCheck("schema")
		agg.Add(issues...)
		s.writeResult(w, r, agg.Result())
		return
	}

	result, err := s.engine.ValidateRuleStructure(rules)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	_ = s.audit.Record(r.Context(), audit.EventAccess, audit.ActionRulesValidate, r.URL.Path, map[string]any{
		"valid":  result.IsValid,
		"errors": len(result.Errors),
	})
	s.writeResult(w, r, result)
}

// ValidateRequest is the body of POST /v1/validate.
type ValidateRequest struct {
	RequirementID string `json:"requirement_id"`
	// Version selects a specific published version; zero means the
	// active one.
	Version        int                         `json:"version,omitempty"`
	StudentCourses []model.StudentCourseRecord `json:"student_courses"`
	AcademicInfo   model.AcademicInfo          `json:"academic_info"`
}

// HandleValidate handles POST /v1/validate: load the rule-set version,
// consult the result cache, and run the engine.
func (s *Server) HandleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.RequirementID == "" {
		WriteBadRequest(w, "Missing required field: requirement_id")
		return
	}

	ctx := r.Context()
	var (
		version *model.RequirementVersion
		err     error
	)
	if req.Version > 0 {
		version, err = s.store.GetVersion(ctx, req.RequirementID, req.Version)
	} else {
		version, err = s.store.GetActiveVersion(ctx, req.RequirementID)
	}
	if errors.Is(err, store.ErrNotFound) {
		WriteNotFound(w, "No published rule set for the given requirement")
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	key, err := canonicalize.CacheKey(version.ID, req.StudentCourses, req.AcademicInfo)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	ctx, finish := s.obs.TrackValidation(ctx, "api.validate",
		attribute.String("requirement.id", req.RequirementID),
		attribute.Int("requirement.version", version.Version),
	)

	if s.cache != nil {
		if cached, ok, cerr := s.cache.Get(ctx, key); cerr == nil && ok {
			finish(nil)
			w.Header().Set("X-Cache", "HIT")
			s.writeResult(w, r, cached)
			return
		} else if cerr != nil {
			s.logger.WarnContext(ctx, "result cache lookup failed", "error", cerr)
		}
	}

	result, err := s.engine.Validate(ctx, version, req.StudentCourses, req.AcademicInfo)
	finish(err)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	if s.cache != nil {
		if cerr := s.cache.Set(ctx, key, result, s.cacheTTL); cerr != nil {
			s.logger.WarnContext(ctx, "result cache store failed", "error", cerr)
		}
	}

	_ = s.audit.Record(ctx, audit.EventEvaluate, audit.ActionEvaluate, r.URL.Path, map[string]any{
		"requirement_id": req.RequirementID,
		"version":        version.Version,
		"valid":          result.IsValid,
	})

	w.Header().Set("X-Cache", "MISS")
	s.writeResult(w, r, result)
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, result *validation.Result) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.WarnContext(r.Context(), "failed to encode result", "error", err)
	}
}
