package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func testClient() *Client {
	return NewClient(5*time.Second, RetryPolicy{Tries: 3, Delay: time.Millisecond, Backoff: 2})
}

func TestGetJSON(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/item", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"S2A_TEST","cloud_cover":12.5}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	var got struct {
		ID         string  `json:"id"`
		CloudCover float64 `json:"cloud_cover"`
	}
	if err := testClient().GetJSON(context.Background(), srv.URL+"/item", &got); err != nil {
		t.Fatalf("GetJSON() failed: %v", err)
	}

	if got.ID != "S2A_TEST" {
		t.Errorf("expected id S2A_TEST, got %s", got.ID)
	}
	if got.CloudCover != 12.5 {
		t.Errorf("expected cloud cover 12.5, got %g", got.CloudCover)
	}
}

func TestPostJSONReplaysBodyOnRetry(t *testing.T) {
	var calls int32
	r := chi.NewRouter()
	r.Post("/search", func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if ct := req.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		var body struct {
			Limit int `json:"limit"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if body.Limit != 10 {
			t.Errorf("expected limit 10 on retry, got %d", body.Limit)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"matched":3}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	var got struct {
		Matched int `json:"matched"`
	}
	err := testClient().PostJSON(context.Background(), srv.URL+"/search",
		map[string]int{"limit": 10}, &got)
	if err != nil {
		t.Fatalf("PostJSON() failed: %v", err)
	}
	if got.Matched != 3 {
		t.Errorf("expected matched 3, got %d", got.Matched)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestGetXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`<Granule><Id>L2A_T01WCV</Id></Granule>`))
	}))
	defer srv.Close()

	var got struct {
		ID string `xml:"Id"`
	}
	if err := testClient().GetXML(context.Background(), srv.URL, &got); err != nil {
		t.Fatalf("GetXML() failed: %v", err)
	}
	if got.ID != "L2A_T01WCV" {
		t.Errorf("expected id L2A_T01WCV, got %s", got.ID)
	}
}

func TestRetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	body, err := testClient().GetBytes(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GetBytes() failed: %v", err)
	}
	if string(body) != "payload" {
		t.Errorf("expected payload, got %q", body)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient().GetBytes(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T: %v", err, err)
	}
	if statusErr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", statusErr.Code)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}

func TestExhaustedRetriesReturnErrTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient().GetBytes(context.Background(), srv.URL)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(5*time.Second, RetryPolicy{Tries: 5, Delay: 10 * time.Second, Backoff: 2})
	_, err := client.GetBytes(ctx, srv.URL)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("band data"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "nested", "B04.jp2")
	n, err := testClient().Download(context.Background(), srv.URL, path)
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if n != int64(len("band data")) {
		t.Errorf("expected %d bytes written, got %d", len("band data"), n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading downloaded file failed: %v", err)
	}
	if string(data) != "band data" {
		t.Errorf("unexpected file contents: %q", data)
	}

	// No temporary files should remain next to the final path.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("reading download dir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the final file in download dir, got %d entries", len(entries))
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"500 status", &StatusError{Code: 500}, true},
		{"429 status", &StatusError{Code: 429}, true},
		{"404 status", &StatusError{Code: 404}, false},
		{"403 status", &StatusError{Code: 403}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}
