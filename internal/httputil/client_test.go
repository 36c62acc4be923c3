package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var (
	_ HTTPClient = (*http.Client)(nil)
	_ HTTPClient = (*MockHTTPClient)(nil)
)

// TestHTTPClient_RealClient checks that a plain *http.Client works
// through the interface against a live server.
func TestHTTPClient_RealClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/detect/stats" {
			t.Errorf("expected path /api/detect/stats, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"samples": 2}`))
	}))
	defer server.Close()

	var c HTTPClient = server.Client()

	resp, err := c.Get(server.URL + "/api/detect/stats")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"samples": 2}` {
		t.Errorf("got body %q", string(body))
	}
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "first").
		AddResponse(http.StatusNotFound, "second")

	resp1, err := mock.Get("http://detect.local/1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK || string(body1) != "first" {
		t.Errorf("first response: got %d %q", resp1.StatusCode, string(body1))
	}

	resp2, err := mock.Get("http://detect.local/2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound || string(body2) != "second" {
		t.Errorf("second response: got %d %q", resp2.StatusCode, string(body2))
	}

	// Queue exhausted: empty 200
	resp3, err := mock.Get("http://detect.local/3")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("exhausted queue: got status %d, want 200", resp3.StatusCode)
	}
}

func TestMockHTTPClient_AddErrorResponse(t *testing.T) {
	mock := NewMockHTTPClient()
	wantErr := errors.New("connection refused")
	mock.AddResponse(http.StatusOK, "ok").AddErrorResponse(wantErr)

	resp, err := mock.Get("http://detect.local/ok")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()

	if _, err := mock.Get("http://detect.local/broken"); err != wantErr {
		t.Errorf("got error %v, want %v", err, wantErr)
	}
}

func TestMockHTTPClient_DefaultError(t *testing.T) {
	mock := NewMockHTTPClient()
	wantErr := errors.New("network down")
	mock.DefaultError = wantErr

	if _, err := mock.Get("http://detect.local/api"); err != wantErr {
		t.Errorf("got error %v, want %v", err, wantErr)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("failed request should still be recorded, count %d", mock.RequestCount())
	}
}

func TestMockHTTPClient_DoFunc(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "queued but ignored")
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTeapot,
			Body:       io.NopCloser(strings.NewReader("custom")),
			Request:    req,
		}, nil
	}

	resp, err := mock.Get("http://detect.local/api")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("DoFunc should win over the queue, got status %d", resp.StatusCode)
	}
}

func TestMockHTTPClient_RecordsRequests(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.Get("http://detect.local/first")
	mock.Get("http://detect.local/second")

	if mock.RequestCount() != 2 {
		t.Fatalf("got %d requests, want 2", mock.RequestCount())
	}

	req0 := mock.GetRequest(0)
	if req0 == nil || !strings.HasSuffix(req0.URL.String(), "/first") {
		t.Errorf("GetRequest(0) = %v, want the first request", req0)
	}
	if req0.Method != http.MethodGet {
		t.Errorf("got method %s, want GET", req0.Method)
	}

	if mock.GetRequest(2) != nil {
		t.Error("out of range index should return nil")
	}
	if mock.GetRequest(-1) != nil {
		t.Error("negative index should return nil")
	}
}

func TestMockHTTPClient_Reset(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusInternalServerError, "boom")
	mock.DefaultError = errors.New("stale")
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("stale")
	}
	mock.Get("http://detect.local/api")

	mock.Reset()

	if mock.RequestCount() != 0 {
		t.Error("Reset should clear recorded requests")
	}

	resp, err := mock.Get("http://detect.local/api")
	if err != nil {
		t.Fatalf("Get after Reset failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d after Reset, want empty 200", resp.StatusCode)
	}
}
