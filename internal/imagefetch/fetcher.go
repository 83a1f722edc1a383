// Package imagefetch performs the single outbound GET against an image
// source, applying the worker's content-type and known-error-payload
// checks.
package imagefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "Bourdain-Image-Worker/1.0"

// knownErrorPayloads maps a source name to the set of response byte-lengths
// that are known to be the source's "not found" placeholder despite a 200
// status code.
var knownErrorPayloads = map[string]map[int]struct{}{
	"pokemontcg_api": {186316: {}},
}

// FetchedBytes is the successful result of a fetch.
type FetchedBytes struct {
	Bytes       []byte
	ContentType string
}

// Result is the outcome of a single fetch attempt.
type Result struct {
	OK          bool
	Bytes       []byte
	ContentType string
	HTTPStatus  int
	Error       string
}

// Fetcher performs bounded-timeout GETs against image sources.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// New creates a Fetcher with the given absolute per-request timeout.
func New(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Fetch performs one GET against url, classifying the response against
// sourceName's known-error-payload table.
func (f *Fetcher) Fetch(ctx context.Context, url, sourceName string) Result {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{OK: false, Error: fmt.Sprintf("HTTP %d", resp.StatusCode), HTTPStatus: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return Result{OK: false, Error: fmt.Sprintf("Invalid content type: %s", contentType), HTTPStatus: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{OK: false, Error: err.Error(), HTTPStatus: resp.StatusCode}
	}

	if payloads, ok := knownErrorPayloads[sourceName]; ok {
		if _, isKnownError := payloads[len(body)]; isKnownError {
			return Result{OK: false, Error: "known_error_payload", HTTPStatus: resp.StatusCode}
		}
	}

	return Result{
		OK:          true,
		Bytes:       body,
		ContentType: contentType,
		HTTPStatus:  resp.StatusCode,
	}
}
