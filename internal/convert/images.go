package convert

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// MaxImageFetchBytes caps remote image downloads inlined for Gemini.
const MaxImageFetchBytes = 8 << 20

var rawBase64Re = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// InlineImage is a base64 payload with its MIME type, ready for Gemini
// inlineData.
type InlineImage struct {
	MimeType string
	Data     string
}

// ParseDataURL splits a base64 data URL into MIME type and payload.
func ParseDataURL(s string) (mime, data string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	meta, payload, found := strings.Cut(s[len("data:"):], ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mime = strings.TrimSuffix(meta, ";base64")
	if mime == "" {
		mime = "image/png"
	}
	return mime, payload, true
}

// LooksLikeBase64 reports whether a bare string is plausibly a base64 image
// payload sent without a data-URL wrapper.
func LooksLikeBase64(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 40 && rawBase64Re.MatchString(s)
}

// InlineFromString resolves data URLs and bare base64 payloads without any
// network round trip; nil means the value is an ordinary URL.
func InlineFromString(value string) *InlineImage {
	if mime, data, ok := ParseDataURL(value); ok {
		return &InlineImage{MimeType: mime, Data: data}
	}
	if LooksLikeBase64(value) {
		return &InlineImage{MimeType: "image/png", Data: strings.TrimSpace(value)}
	}
	return nil
}

// FetchInline downloads a remote image and returns it as base64 with the
// server-reported content type. Downloads beyond MaxImageFetchBytes fail.
func FetchInline(ctx context.Context, client *http.Client, url string) (*InlineImage, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageFetchBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxImageFetchBytes {
		return nil, fmt.Errorf("image exceeds %d byte limit", MaxImageFetchBytes)
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.TrimSpace(mime)
	if mime == "" {
		mime = "image/png"
	}

	return &InlineImage{MimeType: mime, Data: base64.StdEncoding.EncodeToString(body)}, nil
}
