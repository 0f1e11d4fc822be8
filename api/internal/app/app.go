// Package app assembles the grading pipeline from config for the binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"exam-grader/api/internal/config"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/llm"
	"exam-grader/api/internal/llm/gemini"
	"exam-grader/api/internal/llm/gpt"
	"exam-grader/api/internal/normalize"
	"exam-grader/api/internal/service"
	"exam-grader/api/internal/store"
)

type App struct {
	Cfg *config.Config
	Log zerolog.Logger

	// DB and Repo are nil when no database is configured.
	DB   *sql.DB
	Repo *store.GradingRepo

	Grader *service.Grader
}

// New builds the pipeline. With withDB it connects to Postgres when a DSN is
// configured and records every grading there.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, withDB bool) (*App, error) {
	a := &App{Cfg: cfg, Log: log}

	if dsn := ResolveDSN(cfg); withDB && dsn != "" {
		db, err := store.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		repo := store.NewGradingRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		log.Info().Str("dsn", SafeDSNSummary(dsn)).Msg("db.connected")
		a.DB, a.Repo = db, repo
	}

	opts := normalize.DefaultOptions()
	opts.MaxInputBytes = cfg.MaxInputBytes
	norm := normalize.New(log, normalize.WithOptions(opts))

	engines := &llm.Engines{
		Gemini: gemini.New(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.MaxOutputTokens, log),
		GPT:    gpt.New(cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.OpenAI.Timeout, log),
	}
	disp := llm.NewDispatcher(engines, log)

	var rec service.Recorder
	if a.Repo != nil {
		rec = a.Repo
	}
	g := service.New(norm, disp, rec, log)
	if id, err := grading.ParseBackend(cfg.DefaultBackend); err == nil {
		g.DefaultBackend = id
	}
	g.Models = map[grading.BackendID]string{
		grading.BackendGemini: cfg.Gemini.Model,
		grading.BackendGPT:    cfg.OpenAI.Model,
	}
	a.Grader = g
	return a, nil
}

// Credentials are the operator's keys per backend, for front ends that act
// on behalf of their users.
func (a *App) Credentials() map[grading.BackendID]string {
	return map[grading.BackendID]string{
		grading.BackendGemini: a.Cfg.Gemini.APIKey,
		grading.BackendGPT:    a.Cfg.OpenAI.APIKey,
	}
}

func (a *App) Close() {
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

// ResolveDSN prefers the configured URL and otherwise builds one from
// POSTGRES_* / PG* variables when PGHOST is set.
func ResolveDSN(cfg *config.Config) string {
	if v := strings.TrimSpace(cfg.DatabaseURL); v != "" {
		return v
	}
	host := strings.TrimSpace(os.Getenv("PGHOST"))
	if host == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getenvDefault("POSTGRES_USER", "grader"), os.Getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(host, getenvDefault("PGPORT", "5432")),
		Path:     "/" + getenvDefault("POSTGRES_DB", "grader"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// SafeDSNSummary drops the password for logging.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
