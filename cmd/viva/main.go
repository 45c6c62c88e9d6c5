package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/viva/internal/assets"
	"github.com/pavelanni/viva/internal/engage"
	"github.com/pavelanni/viva/internal/handler"
	"github.com/pavelanni/viva/internal/integrity"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/model"
	"github.com/pavelanni/viva/internal/scoring"
	"github.com/pavelanni/viva/internal/store"
)

func main() {
	// Local development convenience; a missing .env is fine.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viva",
		Short: "AI-scored oral and written assessment platform for K-12 classrooms",
	}

	serve := serveCmd()
	root.AddCommand(serve, sweepCmd(), reportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "viva.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM endpoint")
	f.String("llm-model", "gpt-4o-mini", "Model used for scoring and follow-ups")
	f.String("llm-audio-model", "whisper-1", "Model used for audio transcription")
	f.Duration("llm-timeout", 60*time.Second, "Per-call timeout for AI requests")
	f.String("supabase-url", "", "Supabase project URL for asset storage (empty disables uploads)")
	f.String("supabase-key", "", "Supabase service key")
	f.String("supabase-bucket", "viva-assets", "Supabase storage bucket")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("sweep-secret", "", "Bearer secret for the scoring sweep endpoint (empty leaves it open)")
	f.Duration("signed-url-ttl", 15*time.Minute, "Lifetime of signed asset URLs")
	f.Duration("session-ttl", 24*time.Hour, "Lifetime of teacher login sessions")
	f.Int("active-minutes-limit", engage.DefaultThresholds.ActiveMinutes, "Protracted threshold: active minutes")
	f.Int("re-engagement-limit", engage.DefaultThresholds.ReEngagements, "Protracted threshold: re-engagement count")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set VIVA_ADMIN_PASSWORD)")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Score pending submitted submissions and exit",
		RunE:  runSweep,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	cmd.Flags().IntP("limit", "n", scoring.DefaultSweepLimit, "Maximum submissions to score in this run")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the protracted-submissions report as JSON",
		RunE:  runReport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.Int("active-minutes-limit", engage.DefaultThresholds.ActiveMinutes, "Protracted threshold: active minutes")
	f.Int("re-engagement-limit", engage.DefaultThresholds.ReEngagements, "Protracted threshold: re-engagement count")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

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
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("VIVA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("viva")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/viva")
	v.AddConfigPath("/etc/viva")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// buildPipeline wires the store, AI client, and blob store into a scoring
// pipeline. The assets store is nil when Supabase is not configured.
func buildPipeline(v *viper.Viper, db *store.Store) (*scoring.Pipeline, *assets.Store, error) {
	llmClient := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		v.GetString("llm-audio-model"),
		v.GetDuration("llm-timeout"),
	)
	if err := llmClient.Ping(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	var assetStore *assets.Store
	var blobs scoring.BlobStore
	if v.GetString("supabase-url") != "" {
		assetStore = assets.New(
			v.GetString("supabase-url"),
			v.GetString("supabase-key"),
			v.GetString("supabase-bucket"),
		)
		blobs = assetStore
	} else {
		slog.Warn("supabase-url not set, audio and visual uploads are disabled")
	}

	return scoring.New(db, llmClient, blobs), assetStore, nil
}

func thresholdsFrom(v *viper.Viper) engage.Thresholds {
	return engage.Thresholds{
		ActiveMinutes: v.GetInt("active-minutes-limit"),
		ReEngagements: v.GetInt("re-engagement-limit"),
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if ttl := v.GetDuration("session-ttl"); ttl > 0 {
		db.SetSessionTTL(ttl)
	}

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	pipeline, assetStore, err := buildPipeline(v, db)
	if err != nil {
		return err
	}

	sweepSecret := v.GetString("sweep-secret")
	if sweepSecret == "" {
		slog.Warn("sweep-secret not set: the scoring sweep endpoint accepts unauthenticated calls")
	}

	h := handler.New(db, pipeline, integrity.NewRecorder(db), assetStore, handler.Config{
		SecureCookies: v.GetBool("secure-cookies"),
		SweepSecret:   sweepSecret,
		SignedURLTTL:  v.GetDuration("signed-url-ttl"),
		Thresholds:    thresholdsFrom(v),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"assets_enabled", assetStore != nil,
		"active_minutes_limit", v.GetInt("active-minutes-limit"),
		"re_engagement_limit", v.GetInt("re-engagement-limit"),
	)
	return http.ListenAndServe(addr, r)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	pipeline, _, err := buildPipeline(v, db)
	if err != nil {
		return err
	}

	results, err := pipeline.RunSweep(context.Background(), v.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("run sweep: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func runReport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	report, err := engage.BuildProtractedReport(db, thresholdsFrom(v))
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or VIVA_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
