package util

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
	MIMEHEIC = "image/heic"
	MIMEPDF  = "application/pdf"
)

// SniffMIME detects the content type from magic bytes. HEIC is recognised by its
// ISO-BMFF brand, everything else goes through http.DetectContentType.
func SniffMIME(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return MIMEJPEG
	}
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return MIMEPNG
	}
	if bytes.HasPrefix(b, []byte("%PDF-")) {
		return MIMEPDF
	}
	if len(b) >= 12 && string(b[4:8]) == "ftyp" {
		switch string(b[8:12]) {
		case "heic", "heix", "heim", "heis", "hevc", "hevx", "mif1", "msf1":
			return MIMEHEIC
		}
	}
	if len(b) == 0 {
		return ""
	}
	mt := http.DetectContentType(b)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// IsGenericMIME reports a missing or catch-all declared type.
func IsGenericMIME(mt string) bool {
	switch strings.ToLower(strings.TrimSpace(mt)) {
	case "", "application/octet-stream", "binary/octet-stream", "application/unknown":
		return true
	}
	return false
}

func MakeDataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

// DecodeBase64MaybeDataURL decodes base64; for a data: URI the MIME from its prefix is returned too.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, hintMIME, nil
	} else if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hintMIME, nil
	} else {
		return nil, "", err
	}
}

// PickMIME prefers an explicit non-generic type, then the data URI hint, then sniffing.
func PickMIME(explicit, hint string, data []byte) string {
	if exp := strings.TrimSpace(explicit); !IsGenericMIME(exp) {
		return strings.ToLower(exp)
	}
	if h := strings.TrimSpace(hint); !IsGenericMIME(h) {
		return strings.ToLower(h)
	}
	if sniffed := SniffMIME(data); sniffed != "" {
		return sniffed
	}
	return strings.ToLower(strings.TrimSpace(explicit))
}
