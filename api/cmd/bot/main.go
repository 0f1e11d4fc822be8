package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"exam-grader/api/internal/app"
	"exam-grader/api/internal/config"
	"exam-grader/api/internal/logger"
	"exam-grader/api/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if strings.TrimSpace(cfg.TelegramBotToken) == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, true)
	if err != nil {
		log.Fatal().Err(err).Msg("startup")
	}
	defer a.Close()

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram")
	}
	bot.Debug = false

	backend := a.Grader.DefaultBackend
	r := &telegram.Router{
		Bot:            bot,
		Grader:         a.Grader,
		Log:            log.With().Str("component", "telegram").Logger(),
		DefaultBackend: backend,
		Credentials:    a.Credentials(),
		Timeout:        cfg.RequestTimeout,
		MaxFileBytes:   cfg.MaxInputBytes,
	}

	// ListenForWebhook registers on DefaultServeMux, so healthz goes there too.
	http.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if a.DB != nil {
			pctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := a.DB.PingContext(pctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := "0.0.0.0:" + cfg.Port
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		startWebhookMode(ctx, log, addr, bot, r, webhookURL)
	} else {
		startPollingMode(ctx, log, addr, bot, r)
	}
	r.Wait()
}

func startWebhookMode(ctx context.Context, log zerolog.Logger, addr string, bot *tgbotapi.BotAPI, r *telegram.Router, baseURL string) {
	path := webhookPath(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		log.Fatal().Err(err).Msg("webhook")
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		log.Fatal().Err(err).Msg("set webhook")
	}

	updates := bot.ListenForWebhook(path)
	go func() {
		for upd := range updates {
			r.HandleUpdate(upd)
		}
		log.Info().Msg("webhook updates channel closed")
	}()

	srv := &http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Info().Str("addr", addr).Str("path", path).Msg("webhook listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("listen")
	}
}

func startPollingMode(ctx context.Context, log zerolog.Logger, addr string, bot *tgbotapi.BotAPI, r *telegram.Router) {
	go func() {
		log.Info().Str("addr", addr).Msg("health server listening")
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error().Err(err).Msg("health server")
		}
	}()
	runPolling(ctx, log, bot, r.HandleUpdate)
}

// backoff spaces out failed getUpdates calls: Telegram's retry_after when it
// sends one, otherwise doubling from base up to max.
type backoff struct {
	base, max time.Duration
	failures  int
}

func (b *backoff) next(err error) time.Duration {
	b.failures++
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	d := b.base
	for i := 1; i < b.failures && d < b.max; i++ {
		d *= 2
	}
	return min(d, b.max)
}

func (b *backoff) reset() { b.failures = 0 }

// updateSource is the part of *tgbotapi.BotAPI the polling loop uses.
type updateSource interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// runPolling long-polls until ctx is done, handing each update to handle in order.
func runPolling(ctx context.Context, log zerolog.Logger, bot updateSource, handle func(tgbotapi.Update)) {
	bo := backoff{base: time.Second, max: 15 * time.Second}
	req := tgbotapi.NewUpdate(0)
	req.Timeout = 30

	for ctx.Err() == nil {
		updates, err := bot.GetUpdates(req)
		if err != nil {
			d := bo.next(err)
			log.Warn().Err(err).Int("failures", bo.failures).Dur("retry_in", d).Msg("telegram.poll.failed")
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
			continue
		}
		bo.reset()
		for _, upd := range updates {
			req.Offset = max(req.Offset, upd.UpdateID+1)
			handle(upd)
		}
	}
	log.Info().Msg("telegram.poll.stopped")
}

// webhookPath derives a stable, unguessable path from the bot token.
func webhookPath(token string) string {
	return "/webhook/" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(token)).String()
}
