package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/shoshin/internal/csvio"
	"github.com/pavelanni/shoshin/internal/examfile"
	"github.com/pavelanni/shoshin/internal/grading"
	"github.com/pavelanni/shoshin/internal/handler"
	appI18n "github.com/pavelanni/shoshin/internal/i18n"
	"github.com/pavelanni/shoshin/internal/llm"
	"github.com/pavelanni/shoshin/internal/llm/prompts"
	"github.com/pavelanni/shoshin/internal/metrics"
	"github.com/pavelanni/shoshin/internal/model"
	"github.com/pavelanni/shoshin/internal/store"
)

const sessionCleanupInterval = time.Hour

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shoshin",
		Short: "Staff promotion exam server with AI-assisted grading",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Write logs to this file with rotation instead of stderr")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "shoshin.db", "SQLite database path")
	f.StringSliceP("exams", "e", nil, "Exam files to import at start-up, JSON or YAML (repeatable)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Float64("llm-rps", 2, "Maximum LLM requests per second (0 = unlimited)")
	f.StringP("lang", "l", "ja", "UI language (ja, en)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /exam)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Int("pass-threshold", grading.DefaultPassThreshold, "Total score needed to pass")
	f.Bool("timed-navigation", false, "Lock navigation to question order with per-question time limits")
	f.Int("grade-concurrency", 4, "Maximum concurrent AI grading requests per review")
	f.String("admin-password", "", "Initial admin password (or set SHOSHIN_ADMIN_PASSWORD)")
	f.String("admin-employee-id", "00000000", "Employee ID of the initial admin")
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export submissions as CSV or JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "shoshin.db", "SQLite database path")
	f.StringP("format", "f", "csv", "Output format (csv, json)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SHOSHIN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("shoshin")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/shoshin")
	v.AddConfigPath("/etc/shoshin")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed the personnel office account if no users exist.
	if err := seedAdmin(db, v.GetString("admin-employee-id"), v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := loadExams(db, v.GetStringSlice("exams")); err != nil {
		return fmt.Errorf("load exams: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	if err := prompts.Load(prompts.Embedded); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	promptVariant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(promptVariant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", promptVariant)
		promptVariant = string(prompts.PromptStandard)
	}
	llmClient := llm.New(llm.Config{
		BaseURL: v.GetString("llm-url"),
		APIKey:  v.GetString("llm-key"),
		Model:   v.GetString("llm-model"),
		Variant: prompts.PromptVariant(promptVariant),
		RPS:     v.GetFloat64("llm-rps"),
	})
	if err := llmClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	metrics.Init()

	basePath := normalizeBasePath(v.GetString("base-path"))
	cfg := model.AppConfig{
		BasePath:         basePath,
		SecureCookies:    v.GetBool("secure-cookies"),
		PromptVariant:    promptVariant,
		PassThreshold:    v.GetInt("pass-threshold"),
		TimedNavigation:  v.GetBool("timed-navigation"),
		GradeConcurrency: v.GetInt("grade-concurrency"),
	}
	h, err := handler.New(db, llmClient, cfg)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	go cleanupSessions(db, sessionCleanupInterval)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
		"base_path", basePath,
		"pass_threshold", cfg.PassThreshold,
		"timed_navigation", cfg.TimedNavigation,
		"prompt_variant", promptVariant,
	)
	return http.ListenAndServe(addr, r)
}

func cleanupSessions(db *store.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		n, err := db.CleanupExpiredSessions()
		if err != nil {
			slog.Error("cleanup expired sessions", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("removed expired sessions", "count", n)
		}
	}
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	format := strings.ToLower(v.GetString("format"))
	if format != "csv" && format != "json" {
		return fmt.Errorf("unknown format %q (want csv or json)", format)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	rows, err := db.ExportSubmissions()
	if err != nil {
		return fmt.Errorf("export submissions: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "json" {
		err = csvio.WriteSubmissionsJSON(w, rows, time.Now())
	} else {
		err = csvio.WriteSubmissionsCSV(w, rows)
	}
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("exported submissions", "count", len(rows), "format", format)
	return nil
}

func loadExams(db *store.Store, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		n, err := examfile.Import(db, path, data)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if n == 0 {
			slog.Info("exam file unchanged, skipping", "path", path)
			continue
		}
		slog.Info("imported exams", "path", path, "count", n)
	}
	return nil
}

func seedAdmin(db *store.Store, employeeID, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or SHOSHIN_ADMIN_PASSWORD env var")
	}
	if len(password) < 8 {
		return fmt.Errorf("admin password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		EmployeeID:   employeeID,
		Name:         "Personnel Office",
		Role:         model.RoleSystemAdmin,
		PasswordHash: string(hash),
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "employee_id", employeeID)
	return nil
}
