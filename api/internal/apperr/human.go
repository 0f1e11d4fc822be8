package apperr

import (
	"errors"
	"net/http"
	"strings"
)

const reduceInputMessage = "The request is too large for the model service. Reduce input size (fewer pages, smaller photos, or paste text instead) and try again."

// transport and gateway symptoms of an oversized request body
var payloadSymptoms = []string{
	"request entity too large",
	"payload too large",
	"content too large",
	"request too large",
	"failed to fetch",
	"message larger than max",
	"exceeds the maximum",
	"connection reset by peer",
	"broken pipe",
}

// IsPayloadTooLarge reports whether err looks like a payload-size rejection.
// Only backend and unclassified errors are considered.
func IsPayloadTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Kind != BackendError {
			return false
		}
		if e.Status == http.StatusRequestEntityTooLarge {
			return true
		}
	}
	s := strings.ToLower(err.Error())
	for _, p := range payloadSymptoms {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// Human renders err as the single line shown to the person who started the request.
func Human(err error) string {
	if err == nil {
		return ""
	}
	if IsPayloadTooLarge(err) {
		return reduceInputMessage
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Grading failed: " + err.Error()
	}
	switch e.Kind {
	case UnsupportedFormat:
		return "Unsupported file type: " + e.Error() + ". Use an image, a PDF or a HEIC photo."
	case OversizedInput:
		return "File is too large: " + e.Error() + "."
	case ConversionFailure:
		return "Could not convert the document: " + e.Error() + "."
	case MissingCredential:
		return "An API key is required for this model service: " + e.Error() + "."
	case UnsupportedPayload:
		return "This model service cannot accept the attachment: " + e.Error() + "."
	case BackendError:
		return "Model service error: " + e.Error()
	case EmptyReply:
		return "The model returned an empty reply. Try again."
	case MalformedReply:
		return "The model reply could not be read as a grading result: " + e.Error()
	default:
		return e.Error()
	}
}
