package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url, Options{MaxAttempts: 3, Backoff: time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		wantBase   string
		shouldFail bool
	}{
		{name: "trailing slash trimmed", in: "https://dm.example.com/api/dm/", wantBase: "https://dm.example.com/api/dm"},
		{name: "plain host", in: "http://localhost:3000", wantBase: "http://localhost:3000"},
		{name: "empty", in: "  ", shouldFail: true},
		{name: "missing scheme", in: "dm.example.com/api", shouldFail: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.in, Options{})
			if tc.shouldFail {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient: %v", err)
			}
			if c.BaseURL() != tc.wantBase {
				t.Fatalf("BaseURL = %q, want %q", c.BaseURL(), tc.wantBase)
			}
		})
	}
}

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"h1"}]}`))
	}))
	defer srv.Close()

	var out struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := newTestClient(t, srv.URL).GetJSON(context.Background(), "/hubs", nil, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if len(out.Data) != 1 || out.Data[0].ID != "h1" {
		t.Fatalf("unexpected payload: %+v", out)
	}
}

func TestGetJSONDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"manifest not found"}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).GetJSON(context.Background(), "/manifest/abc", nil, &struct{}{})
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if se.Status != http.StatusNotFound || se.Message != "manifest not found" {
		t.Fatalf("unexpected error: %+v", se)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("IsStatus(404) = false")
	}
}

func TestGetTextSendsTokenAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("size") != "200" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("aGVsbG8=\n"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL).WithToken("tok-1")
	text, err := client.GetText(context.Background(), "/thumbnail/urn", url.Values{"size": {"200"}})
	if err != nil {
		t.Fatalf("GetText: %v", err)
	}
	if text != "aGVsbG8=" {
		t.Fatalf("text = %q", text)
	}
}

func TestReadLimitedRejectsOversizeBody(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("0123456789A"))}
	_, err := readLimited(resp, 10)
	var se *ServiceError
	if !errors.As(err, &se) || se.Status != http.StatusOK || !strings.Contains(se.Message, "exceeds 10 bytes") {
		t.Fatalf("expected oversize ServiceError, got %v", err)
	}

	resp = &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("0123456789"))}
	body, err := readLimited(resp, 10)
	if err != nil || string(body) != "0123456789" {
		t.Fatalf("readLimited at limit = %q, %v", body, err)
	}
}

func TestTransportFailureIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestClient(t, addr).GetText(context.Background(), "/hubs", nil)
	var se *ServiceError
	if !errors.As(err, &se) || se.Status != 0 {
		t.Fatalf("expected status-0 ServiceError, got %v", err)
	}
}

func TestPostJSONSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "load failed", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).PostJSON(context.Background(), "/models", map[string]string{"urn": "u"}, nil)
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("expected 502 ServiceError, got %v", err)
	}
}
