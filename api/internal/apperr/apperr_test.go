package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("grading: %w", Newf(OversizedInput, "scan.pdf is %d bytes", 30<<20))

	assert.True(t, errors.Is(err, ErrOversizedInput))
	assert.False(t, errors.Is(err, ErrUnsupportedFormat))
	assert.Equal(t, OversizedInput, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(BackendError, "gemini client", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Equal(t, "gemini client: dial tcp: timeout", err.Error())
}

func TestBackendFallsBackToStatusText(t *testing.T) {
	err := Backend(http.StatusBadGateway, "  ")
	assert.Equal(t, "Bad Gateway", err.Error())
	assert.Equal(t, http.StatusBadGateway, err.Status)

	assert.Equal(t, "quota exceeded", Backend(429, "quota exceeded").Error())
}

func TestIsPayloadTooLarge(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"status 413", Backend(http.StatusRequestEntityTooLarge, "nope"), true},
		{"gateway text", Backend(http.StatusBadGateway, "Request Entity Too Large"), true},
		{"transport reset", errors.New("write tcp: connection reset by peer"), true},
		{"ordinary backend error", Backend(http.StatusUnauthorized, "invalid api key"), false},
		{"oversized input is not a backend rejection", New(OversizedInput, "payload too large"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPayloadTooLarge(tt.err))
		})
	}
}

func TestHuman(t *testing.T) {
	assert.Equal(t, reduceInputMessage, Human(Backend(http.StatusRequestEntityTooLarge, "")))
	assert.Contains(t, Human(New(MissingCredential, "openai API key is not set")), "API key is required")
	assert.Contains(t, Human(New(UnsupportedFormat, "notes.docx")), "notes.docx")
	assert.Equal(t, "The model returned an empty reply. Try again.", Human(New(EmptyReply, "")))
	assert.Equal(t, "Grading failed: boom", Human(errors.New("boom")))
	assert.Empty(t, Human(nil))
}
