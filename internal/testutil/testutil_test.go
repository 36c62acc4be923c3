package testutil

import (
	"errors"
	"net/http"
	"testing"
)

// Failure behaviour of the Errorf-based helpers is observed through a
// detached testing.T; the Fatalf-based ones would Goexit the test
// goroutine, so only their passing paths are covered here. They are
// exercised for real throughout the monitor tests.

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()

	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("matching status codes should not fail")
	}

	fakeT = &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusBadRequest)
	if !fakeT.Failed() {
		t.Error("mismatched status codes should fail")
	}
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestAssertError(t *testing.T) {
	t.Parallel()
	AssertError(t, errors.New("boom"))
}

func TestAssertBodyContains(t *testing.T) {
	t.Parallel()

	rr := NewTestRecorder()
	rr.Body.WriteString(`{"status": "ok"}`)

	fakeT := &testing.T{}
	AssertBodyContains(fakeT, rr, `"ok"`)
	if fakeT.Failed() {
		t.Error("present substring should not fail")
	}

	fakeT = &testing.T{}
	AssertBodyContains(fakeT, rr, "missing")
	if !fakeT.Failed() {
		t.Error("absent substring should fail")
	}
}

func TestDecodeJSONBody(t *testing.T) {
	t.Parallel()

	rr := NewTestRecorder()
	rr.Body.WriteString(`{"run_id": "abc", "detections": 3}`)

	var out struct {
		RunID      string `json:"run_id"`
		Detections int    `json:"detections"`
	}
	DecodeJSONBody(t, rr, &out)

	if out.RunID != "abc" {
		t.Errorf("run_id = %q, want %q", out.RunID, "abc")
	}
	if out.Detections != 3 {
		t.Errorf("detections = %d, want 3", out.Detections)
	}
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/api/detect/stats")
	if req.Method != http.MethodGet {
		t.Errorf("method = %s, want GET", req.Method)
	}
	if req.URL.Path != "/api/detect/stats" {
		t.Errorf("path = %s, want /api/detect/stats", req.URL.Path)
	}

	req = NewTestRequest(http.MethodPost, "/api/detect/snapshot")
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
}

func TestNewTestRecorder(t *testing.T) {
	t.Parallel()

	rr := NewTestRecorder()
	if rr.Code != http.StatusOK {
		t.Errorf("initial Code = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("initial body length = %d, want 0", rr.Body.Len())
	}

	rr.WriteHeader(http.StatusNotFound)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
