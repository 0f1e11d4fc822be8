package telegram

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"exam-grader/api/internal/apperr"
	"exam-grader/api/internal/grading"
	"exam-grader/api/internal/normalize"
	"exam-grader/api/internal/util"
)

func (r *Router) acceptPhoto(msg tgbotapi.Message, target string) {
	// largest size is last
	ph := msg.Photo[len(msg.Photo)-1]
	name := fmt.Sprintf("photo_%d.jpg", msg.MessageID)
	r.acceptFile(msg.Chat.ID, target, ph.FileID, name, util.MIMEJPEG, int64(ph.FileSize))
}

func (r *Router) acceptDocument(msg tgbotapi.Message, target string) {
	d := msg.Document
	if !normalize.Accepts(d.FileName, d.MimeType) {
		r.SendError(msg.Chat.ID, apperr.Newf(apperr.UnsupportedFormat, "%s has type %q", d.FileName, d.MimeType))
		return
	}
	r.acceptFile(msg.Chat.ID, target, d.FileID, d.FileName, d.MimeType, int64(d.FileSize))
}

// acceptFile checks what Telegram reports about the file, then downloads it
// on the chat's queue so the update loop never waits on a transfer.
func (r *Router) acceptFile(chatID int64, target, fileID, name, mime string, size int64) {
	if r.MaxFileBytes > 0 && size > r.MaxFileBytes {
		r.SendError(chatID, apperr.Newf(apperr.OversizedInput, "%s is %d bytes, limit is %d", name, size, r.MaxFileBytes))
		return
	}
	s := getSession(chatID)
	s.enqueue(&r.pending, func() {
		s.mu.Lock()
		full := s.fileCount(target) >= maxFilesPerSide
		s.mu.Unlock()
		if full {
			r.send(chatID, fmt.Sprintf("The %s already has %d files. Send /grade or /reset.", targetLabel(target), maxFilesPerSide))
			return
		}

		url, err := r.Bot.GetFileDirectURL(fileID)
		if err != nil {
			r.SendError(chatID, err)
			return
		}
		data, err := download(url, r.MaxFileBytes)
		if err != nil {
			if errors.Is(err, apperr.ErrOversizedInput) {
				err = apperr.Newf(apperr.OversizedInput, "%s is larger than %d bytes", name, r.MaxFileBytes)
			}
			r.SendError(chatID, err)
			return
		}

		doc := grading.RawDocument{Name: name, MIMEType: util.PickMIME(mime, "", data), Data: data}
		s.mu.Lock()
		n, ok := s.addFile(target, doc)
		s.mu.Unlock()
		if !ok {
			r.send(chatID, fmt.Sprintf("The %s already has %d files. Send /grade or /reset.", targetLabel(target), maxFilesPerSide))
			return
		}

		r.Log.Debug().Int64("chat_id", chatID).Str("name", name).Int("bytes", len(data)).Msg("telegram.file.accepted")
		r.send(chatID, fmt.Sprintf("Got %s (%d file(s) for the %s). Send more or /grade.", name, n, targetLabel(target)))
	})
}

// download fetches url, failing with OversizedInput once more than limit
// bytes arrive. A non-positive limit reads everything.
func download(url string, limit int64) ([]byte, error) {
	resp, err := httpClient().Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("download status %d: %s", resp.StatusCode, string(b))
	}
	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, apperr.Newf(apperr.OversizedInput, "download exceeds %d bytes", limit)
	}
	return b, nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}
