package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobby-stack/gobby/internal/config"
	"github.com/gobby-stack/gobby/internal/logging"
)

func newTestClient() *Client {
	return NewClient(config.WebhookConfig{
		Timeout:         2 * time.Second,
		MaxAttempts:     3,
		BaseDelay:       10 * time.Millisecond,
		RetryOnStatuses: []int{502, 503},
	}, logging.NewForTest())
}

func TestDo_Success(t *testing.T) {
	var gotBody, gotHeader, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Token")
		gotMethod = r.Method
		w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	resp, err := newTestClient().Do(context.Background(), Request{
		URL:     srv.URL,
		Method:  "put",
		Headers: map[string]string{"X-Token": "t"},
		Body:    []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != `{"id":"42"}` || resp.Attempts != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotBody != `{"a":1}` || gotHeader != "t" || gotMethod != "PUT" {
		t.Errorf("request not forwarded: %q %q %q", gotBody, gotHeader, gotMethod)
	}
}

func TestDo_RetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(201)
	}))
	defer srv.Close()

	resp, err := newTestClient().Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != 201 || resp.Attempts != 3 {
		t.Errorf("status %d after %d attempts", resp.StatusCode, resp.Attempts)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(502)
	}))
	defer srv.Close()

	resp, err := newTestClient().Do(context.Background(), Request{URL: srv.URL, MaxAttempts: 2})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 502 {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if calls != 2 || resp == nil || resp.Attempts != 2 {
		t.Errorf("calls = %d, resp = %+v", calls, resp)
	}
}

func TestDo_NonRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(400)
	}))
	defer srv.Close()

	_, err := newTestClient().Do(context.Background(), Request{URL: srv.URL})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != 400 {
		t.Fatalf("expected StatusError 400, got %v", err)
	}
	if calls != 1 {
		t.Errorf("400 must not be retried, calls = %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	c := newTestClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Do(ctx, Request{URL: srv.URL, MaxAttempts: 5, BaseDelay: time.Second}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestDo_MissingURL(t *testing.T) {
	if _, err := newTestClient().Do(context.Background(), Request{}); err == nil {
		t.Fatal("expected error")
	}
}
