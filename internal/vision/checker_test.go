package vision

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShouldRunTierOneNever(t *testing.T) {
	c := New("key", testLogger())
	c.rand = func() float64 { return 0 }
	if c.ShouldRun(1, 0.99) {
		t.Fatalf("tier 1 must never run a vision check")
	}
}

func TestShouldRunTierThreeAlways(t *testing.T) {
	c := New("key", testLogger())
	c.rand = func() float64 { return 0.99 }
	if !c.ShouldRun(3, 0.99) {
		t.Fatalf("tier 3 must always run a vision check")
	}
}

func TestShouldRunTierTwoConditionalOnConfidenceBand(t *testing.T) {
	c := New("key", testLogger())
	c.rand = func() float64 { return 0.99 } // would fail the sample-rate roll
	if !c.ShouldRun(2, 0.75) {
		t.Fatalf("tier 2 in [0.6,0.9) must always run regardless of sampling")
	}
}

func TestShouldRunTierTwoOutsideBandUsesSampleRate(t *testing.T) {
	c := New("key", testLogger())
	c.rand = func() float64 { return 0.05 } // below 0.1 sample rate
	if !c.ShouldRun(2, 0.95) {
		t.Fatalf("expected sample-rate roll to trigger a check")
	}
	c.rand = func() float64 { return 0.5 } // above 0.1 sample rate
	if c.ShouldRun(2, 0.95) {
		t.Fatalf("expected sample-rate roll to skip a check")
	}
}

func TestCheckNoAPIKeyReturnsUnknownWithoutCallingOut(t *testing.T) {
	c := New("", testLogger())
	res := c.Check(context.Background(), []byte("data"), "image/jpeg", 3, CardContext{})
	if res.Side != SideUnknown || res.Confidence != 0.5 {
		t.Fatalf("expected unknown/0.5 default, got %+v", res)
	}
}

func TestCheckFrontVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"FRONT"}}]}`))
	}))
	defer srv.Close()

	c := New("key", testLogger())
	c.httpClient = srv.Client()
	c.endpoint = srv.URL
	res := c.Check(context.Background(), []byte("data"), "image/jpeg", 3, CardContext{})
	if res.Side != SideFront || res.Confidence != 0.95 {
		t.Fatalf("expected front/0.95, got %+v", res)
	}
}

func TestCheckNon2xxDegradesToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("key", testLogger())
	c.httpClient = srv.Client()
	c.endpoint = srv.URL
	res := c.Check(context.Background(), []byte("data"), "image/jpeg", 3, CardContext{})
	if res.Side != SideUnknown || res.Confidence != 0.5 {
		t.Fatalf("expected unknown/0.5 on non-2xx, got %+v", res)
	}
}

func TestCheckWrongCardVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"WRONG_CARD"}}]}`))
	}))
	defer srv.Close()

	c := New("key", testLogger())
	c.httpClient = srv.Client()
	c.endpoint = srv.URL
	res := c.Check(context.Background(), []byte("data"), "image/jpeg", 3, CardContext{CardNumber: "25", SetCode: "base1"})
	if res.Side != SideUnknown || res.Confidence != 0.3 {
		t.Fatalf("expected unknown/0.3 for wrong card, got %+v", res)
	}
}
