package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClearPath-Edu/articulate/core/pkg/api"
	"github.com/ClearPath-Edu/articulate/core/pkg/audit"
	"github.com/ClearPath-Edu/articulate/core/pkg/cache"
	"github.com/ClearPath-Edu/articulate/core/pkg/config"
	"github.com/ClearPath-Edu/articulate/core/pkg/engine"
	"github.com/ClearPath-Edu/articulate/core/pkg/model"
	"github.com/ClearPath-Edu/articulate/core/pkg/observability"
	"github.com/ClearPath-Edu/articulate/core/pkg/rulecheck"
	"github.com/ClearPath-Edu/articulate/core/pkg/store"
	"github.com/ClearPath-Edu/articulate/core/pkg/validation"

	_ "github.com/lib/pq" // Postgres Driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	switch args[1] {
	case "validate-rules":
		return runValidateRules(args[2:], stdout, stderr)
	case "evaluate":
		return runEvaluate(args[2:], stdout, stderr)
	case "serve", "server":
		return runServe(stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "articulate - transfer requirement validation engine")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  articulate <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  validate-rules  Check a rule-set document for structural errors (--rules)")
	fmt.Fprintln(w, "  evaluate        Validate a student record against a rule set (--rules, --courses)")
	fmt.Fprintln(w, "  serve           Run the validation HTTP API")
	fmt.Fprintln(w, "  help            Show this help")
}

func runValidateRules(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate-rules", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var rulesPath string
	cmd.StringVar(&rulesPath, "rules", "", "Path to the rule-set JSON document (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if rulesPath == "" {
		fmt.Fprintln(stderr, "Error: --rules is required")
		cmd.Usage()
		return 2
	}

	data, err := os.ReadFile(rulesPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading rules: %v\n", err)
		return 2
	}

	result, err := validateRulesDoc(data)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	printJSON(stdout, result)
	if !result.IsValid {
		return 1
	}
	return 0
}

// evaluateInput is the file format accepted by the evaluate command:
// the student's course history plus aggregate academics.
type evaluateInput struct {
	StudentCourses []model.StudentCourseRecord `json:"student_courses"`
	AcademicInfo   model.AcademicInfo          `json:"academic_info"`
}

func runEvaluate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var rulesPath, coursesPath, gradeScale string
	cmd.StringVar(&rulesPath, "rules", "", "Path to the rule-set JSON document (REQUIRED)")
	cmd.StringVar(&coursesPath, "courses", "", "Path to the student record JSON document (REQUIRED)")
	cmd.StringVar(&gradeScale, "grade-scale", "", "Institution code of a grade scale used to derive a missing GPA")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if rulesPath == "" || coursesPath == "" {
		fmt.Fprintln(stderr, "Error: --rules and --courses are required")
		cmd.Usage()
		return 2
	}

	rulesData, err := os.ReadFile(rulesPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading rules: %v\n", err)
		return 2
	}
	rules, issues := rulecheck.ParseRules(rulesData)
	if len(issues) > 0 {
		fmt.Fprintf(stderr, "Error: %s\n", issues[0].Message)
		return 1
	}

	coursesData, err := os.ReadFile(coursesPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading student record: %v\n", err)
		return 2
	}
	var input evaluateInput
	if err := json.Unmarshal(coursesData, &input); err != nil {
		fmt.Fprintf(stderr, "Error parsing student record: %v\n", err)
		return 2
	}

	if gradeScale != "" && input.AcademicInfo.GPA == nil {
		scale, err := config.LoadScale(config.Load().GradeScaleDir, gradeScale)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading grade scale: %v\n", err)
			return 2
		}
		input.AcademicInfo.GPA = scale.GPA(input.StudentCourses)
	}

	version := &model.RequirementVersion{
		ID:            "local",
		RequirementID: "local",
		Version:       1,
		Rules:         *rules,
		EngineVersion: engine.Version,
	}

	result, err := engine.New().Validate(context.Background(), version, input.StudentCourses, input.AcademicInfo)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	printJSON(stdout, result)
	if !result.IsValid {
		return 1
	}
	return 0
}

func validateRulesDoc(data []byte) (*validation.Result, error) {
	rules, issues := rulecheck.ParseRules(data)
	if len(issues) > 0 {
		// Shape failure: surface it as a result the same way the API does.
		agg := validation.NewAggregator(engine.Version)
		agg.MarkCheck("schema")
		agg.Add(issues...)
		return agg.Result(), nil
	}
	return engine.New().ValidateRuleStructure(rules)
}

func runServe(stderr io.Writer) int {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		return 1
	}
	defer cleanup()

	obsConfig := observability.DefaultConfig()
	obsConfig.Enabled = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
	if obsConfig.Enabled {
		obsConfig.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		obsConfig.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	obs, err := observability.New(ctx, obsConfig)
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	eng := engine.New(engine.WithLogger(logger), engine.WithTracer(obs.Tracer()))

	opts := []api.ServerOption{
		api.WithServerLogger(logger),
		api.WithAudit(audit.NewLogger()),
		api.WithObservability(obs),
	}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCacheFromURL(cfg.RedisURL)
		if err != nil {
			logger.Error("redis init failed", "error", err)
			return 1
		}
		defer rc.Close()
		opts = append(opts, api.WithCache(rc, cfg.CacheTTL))
		logger.Info("result cache: redis", "ttl", cfg.CacheTTL)
	} else {
		opts = append(opts, api.WithCache(cache.NewMemoryCache(), cfg.CacheTTL))
		logger.Info("result cache: in-memory", "ttl", cfg.CacheTTL)
	}

	srv := api.NewServer(eng, st, opts...)
	limiter := api.NewGlobalRateLimiter(50, 100)
	handler := api.RequestID(limiter.Middleware(srv.Routes()))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", httpServer.Addr, "engine_version", engine.Version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return 1
	}
	return 0
}

// openStore connects to postgres when DATABASE_URL points at one,
// otherwise falls back to an embedded SQLite database.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if os.Getenv("DATABASE_URL") == "" {
		logger.Info("DATABASE_URL not set, using embedded sqlite", "path", "data/articulate.db")
		if err := os.MkdirAll("data", 0o755); err != nil {
			return nil, nil, err
		}
		s, err := store.OpenSQLiteStore(ctx, "data/articulate.db")
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Println("[articulate] postgres: connected")

	s := store.NewPostgresStore(db)
	if err := s.Init(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, func() { _ = db.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printJSON(w io.Writer, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "%v\n", v)
		return
	}
	fmt.Fprintln(w, string(data))
}
