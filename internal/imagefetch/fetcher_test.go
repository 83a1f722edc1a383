package imagefetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			t.Errorf("unexpected user agent: %s", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("fake-jpeg-bytes"))
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	res := f.Fetch(context.Background(), srv.URL, "some_source")
	if !res.OK {
		t.Fatalf("expected ok, got error: %s", res.Error)
	}
	if res.ContentType != "image/jpeg" {
		t.Fatalf("unexpected content type: %s", res.ContentType)
	}
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	res := f.Fetch(context.Background(), srv.URL, "some_source")
	if res.OK {
		t.Fatalf("expected failure for 404")
	}
	if res.Error != "HTTP 404" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.HTTPStatus != 404 {
		t.Fatalf("unexpected status: %d", res.HTTPStatus)
	}
}

func TestFetchInvalidContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	res := f.Fetch(context.Background(), srv.URL, "some_source")
	if res.OK {
		t.Fatalf("expected failure for non-image content type")
	}
	if !strings.Contains(res.Error, "Invalid content type") {
		t.Fatalf("unexpected error: %s", res.Error)
	}
}

func TestFetchKnownErrorPayload(t *testing.T) {
	payload := make([]byte, 186316)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	res := f.Fetch(context.Background(), srv.URL, "pokemontcg_api")
	if res.OK {
		t.Fatalf("expected known_error_payload failure")
	}
	if res.Error != "known_error_payload" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
}

func TestFetchSamePayloadLengthUnaffectedForOtherSources(t *testing.T) {
	payload := make([]byte, 186316)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer srv.Close()

	f := New(5 * time.Second)
	res := f.Fetch(context.Background(), srv.URL, "a_different_source")
	if !res.OK {
		t.Fatalf("expected success, known-error-payload table is per-source: %s", res.Error)
	}
}
