package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
)

func TestDoJSONRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := New(2*time.Second, 3)
	var out struct {
		OK bool `json:"ok"`
	}
	if _, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, &out); err != nil {
		t.Fatalf("expected retry success, got %v", err)
	}
	if !out.OK || calls != 3 {
		t.Fatalf("unexpected outcome: ok=%v calls=%d", out.OK, calls)
	}
}

func TestDoJSONRateLimitCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := New(time.Second, 0)
	_, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, nil)
	if !engerr.HasCode(err, engerr.CodeRateLimited) {
		t.Fatalf("expected rate limited code, got %v", err)
	}
}

func TestDoJSONDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "swap-engine/1.0" {
			t.Errorf("missing user agent, got %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`{"value":42}`))
	}))
	defer srv.Close()

	client := New(time.Second, 0)
	var out struct {
		Value int `json:"value"`
	}
	if _, err := DoBodyJSON(context.Background(), client, http.MethodGet, srv.URL, nil, nil, &out); err != nil {
		t.Fatalf("DoBodyJSON failed: %v", err)
	}
	if out.Value != 42 {
		t.Fatalf("unexpected value %d", out.Value)
	}
}
