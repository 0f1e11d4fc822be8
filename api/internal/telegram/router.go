package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/service"
)

type Grader interface {
	Grade(ctx context.Context, sub service.Submission, cfg grading.DispatchConfig) (service.Outcome, error)
}

// Sender is the part of *tgbotapi.BotAPI the router uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Router struct {
	Bot    Sender
	Grader Grader
	Log    zerolog.Logger

	DefaultBackend grading.BackendID
	// Credentials are the operator's keys, used on behalf of chat users.
	Credentials  map[grading.BackendID]string
	Timeout      time.Duration
	MaxFileBytes int64
	// SessionTTL is how long an untouched chat keeps its collected material.
	SessionTTL time.Duration

	pending   sync.WaitGroup
	sweepMu   sync.Mutex
	lastSweep time.Time
}

const (
	defaultSessionTTL = 6 * time.Hour
	sweepEvery        = 10 * time.Minute
)

const helpText = `Send me an exam answer and I will grade it against your rubric.

/question <text> — the exam question
/rubric <text> — rubric as text; /rubric alone makes the next photos or files the rubric
/answer <text> — student answer as text; /answer alone makes the next photos or files the answer
/engine gemini|gpt [model] — choose the model service
/grade — grade what was collected; files are cleared afterwards
/status — show what was collected
/reset — start over`

func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	r.sweepIdle(time.Now())
	msg := upd.Message
	cid := msg.Chat.ID

	if msg.IsCommand() {
		r.HandleCommand(msg)
		return
	}
	s := getSession(cid)
	s.mu.Lock()
	target := s.target
	s.mu.Unlock()
	switch {
	case len(msg.Photo) > 0:
		r.acceptPhoto(*msg, target)
	case msg.Document != nil:
		r.acceptDocument(*msg, target)
	case strings.TrimSpace(msg.Text) != "":
		s.mu.Lock()
		s.setText(target, strings.TrimSpace(msg.Text))
		s.mu.Unlock()
		r.send(cid, "Saved as "+targetLabel(target)+" text.")
	}
}

// Wait blocks until queued downloads and gradings have finished.
func (r *Router) Wait() { r.pending.Wait() }

func (r *Router) sweepIdle(now time.Time) {
	r.sweepMu.Lock()
	due := now.Sub(r.lastSweep) >= sweepEvery
	if due {
		r.lastSweep = now
	}
	r.sweepMu.Unlock()
	if !due {
		return
	}
	ttl := r.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if n := evictIdle(now, ttl); n > 0 {
		r.Log.Debug().Int("evicted", n).Msg("telegram.sessions.evicted")
	}
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())
	s := getSession(cid)

	switch msg.Command() {
	case "start", "help":
		r.send(cid, helpText)
	case "question":
		if args == "" {
			r.send(cid, "Usage: /question <text>")
			return
		}
		s.mu.Lock()
		s.question = args
		s.mu.Unlock()
		r.send(cid, "Question saved.")
	case "rubric", "answer":
		target := targetRubric
		if msg.Command() == "answer" {
			target = targetAnswer
		}
		s.mu.Lock()
		s.target = target
		if args != "" {
			s.setText(target, args)
		}
		s.mu.Unlock()
		if args != "" {
			r.send(cid, "Saved as "+targetLabel(target)+" text.")
		} else {
			r.send(cid, "Send photos, PDFs or HEIC files for the "+targetLabel(target)+".")
		}
	case "engine":
		r.handleEngineCommand(cid, args)
	case "status":
		r.send(cid, r.status(s))
	case "reset":
		s.mu.Lock()
		s.reset()
		s.mu.Unlock()
		r.send(cid, "Cleared. Send /question to begin.")
	case "grade":
		s.mu.Lock()
		busy := s.busy
		s.mu.Unlock()
		if busy {
			r.send(cid, "Grading is already in progress.")
			return
		}
		// behind any downloads still queued for this chat
		s.enqueue(&r.pending, func() { r.grade(cid) })
	default:
		r.send(cid, "Unknown command. /help lists what I understand.")
	}
}

// handleEngineCommand parses /engine {gemini|gpt} [model].
func (r *Router) handleEngineCommand(chatID int64, args string) {
	f := strings.Fields(args)
	s := getSession(chatID)
	if len(f) == 0 {
		s.mu.Lock()
		cur := s.backend
		s.mu.Unlock()
		if cur == "" {
			cur = r.DefaultBackend
		}
		r.send(chatID, "Current engine: "+string(cur)+"\nUsage: /engine gemini [model] | /engine gpt [model]")
		return
	}
	id, err := grading.ParseBackend(f[0])
	if err != nil {
		r.send(chatID, "Unknown engine. Available: gemini | gpt")
		return
	}
	s.mu.Lock()
	s.backend = id
	s.model = ""
	if len(f) > 1 {
		s.model = f[1]
	}
	s.mu.Unlock()
	r.send(chatID, "✅ Engine: "+string(id))
}

func (r *Router) grade(chatID int64) {
	s := getSession(chatID)
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		r.send(chatID, "Grading is already in progress.")
		return
	}
	sub := service.Submission{
		Question:     s.question,
		RubricText:   s.rubricText,
		RubricFiles:  s.rubricFiles,
		StudentText:  s.studentText,
		StudentFiles: s.studentFiles,
	}
	backend := s.backend
	if backend == "" {
		backend = r.DefaultBackend
	}
	cfg := grading.DispatchConfig{Backend: backend, Model: s.model, Credential: r.Credentials[backend]}
	s.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.releaseGraded(sub.RubricFiles, sub.StudentFiles)
		s.mu.Unlock()
	}()

	r.send(chatID, "Grading…")
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := r.Grader.Grade(ctx, sub, cfg)
	if err != nil {
		r.Log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram.grade.failed")
		r.SendError(chatID, err)
		return
	}
	r.sendMarkdown(chatID, FormatOutcome(out))
}

func (r *Router) status(s *session) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	q := s.question
	if q == "" {
		q = "(not set)"
	}
	fmt.Fprintf(&b, "Question: %s\n", q)
	fmt.Fprintf(&b, "Rubric: %s\n", describe(s.rubricText, len(s.rubricFiles)))
	fmt.Fprintf(&b, "Answer: %s\n", describe(s.studentText, len(s.studentFiles)))
	backend := s.backend
	if backend == "" {
		backend = r.DefaultBackend
	}
	fmt.Fprintf(&b, "Engine: %s\nNext files go to: %s", backend, targetLabel(s.target))
	return b.String()
}

func describe(text string, files int) string {
	switch {
	case files > 0:
		return fmt.Sprintf("%d file(s)", files)
	case text != "":
		return fmt.Sprintf("text (%d chars)", len([]rune(text)))
	default:
		return "(not set)"
	}
}

func targetLabel(t string) string {
	if t == targetRubric {
		return "rubric"
	}
	return "student answer"
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, _ = r.Bot.Send(msg)
}

func (r *Router) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := r.Bot.Send(msg); err != nil {
		// fall back to plain text when Markdown is rejected
		r.send(chatID, text)
	}
}

func (r *Router) SendError(chatID int64, err error) {
	r.send(chatID, "❌ "+apperr.Human(err))
}
