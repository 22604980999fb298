package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/pinpoint/resolver"
)

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), Batch{Seq: 3, Positions: map[string]resolver.Position{}}); err != nil {
		t.Fatal(err)
	}
	var env struct {
		Type string `json:"type"`
		Data Batch  `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("not a JSON line: %q", buf.String())
	}
	if env.Type != "positions" || env.Data.Seq != 3 {
		t.Errorf("got %+v", env)
	}
}

func TestWebhook_Retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type: %q", r.Header.Get("Content-Type"))
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), Batch{Seq: 1}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), Batch{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRouter_ContinuesPastFailure(t *testing.T) {
	boom := errors.New("boom")
	var delivered int
	r := NewRouter(nil,
		NewCallback(func(context.Context, Batch) error { return boom }),
		NewCallback(func(context.Context, Batch) error { delivered++; return nil }),
	)
	r.Add(NewCallback(func(context.Context, Batch) error { delivered++; return nil }))

	if err := r.Send(context.Background(), Batch{}); !errors.Is(err, boom) {
		t.Errorf("first error should be returned, got %v", err)
	}
	if delivered != 2 {
		t.Errorf("delivered: got %d, want 2", delivered)
	}
	if err := r.Close(); err != nil {
		t.Error(err)
	}
}
