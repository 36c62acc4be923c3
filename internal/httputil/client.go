// Package httputil defines the HTTP client seam used by the monitor
// query client, with a canned-response mock for tests.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the subset of *http.Client the monitor client needs.
// *http.Client satisfies it directly; tests substitute MockHTTPClient.
type HTTPClient interface {
	// Do sends an HTTP request and returns the response.
	Do(req *http.Request) (*http.Response, error)
	// Get issues a GET to the given URL.
	Get(url string) (*http.Response, error)
}

// MockHTTPClient records every request and serves canned responses.
//
// Responses are consumed in the order queued by AddResponse and
// AddErrorResponse. A DoFunc, when set, takes over entirely, and a
// DefaultError fails every request. With nothing configured a request
// gets an empty 200.
type MockHTTPClient struct {
	mu       sync.Mutex
	requests []*http.Request
	queue    []canned

	DoFunc       func(req *http.Request) (*http.Response, error)
	DefaultError error
}

type canned struct {
	status int
	body   string
	err    error
}

// NewMockHTTPClient returns an empty mock.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response with the given status and body. It
// returns the mock so queueing calls can be chained.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, canned{status: statusCode, body: body})
	return m
}

// AddErrorResponse queues a transport-level failure.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, canned{err: err})
	return m
}

// Do records the request and answers it from, in order of precedence,
// DoFunc, DefaultError, the response queue, or an empty 200.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	body := ""
	status := http.StatusOK
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		if next.err != nil {
			return nil, next.err
		}
		status = next.status
		body = next.body
	}

	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Get issues a GET through Do so the request is recorded.
func (m *MockHTTPClient) Get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return m.Do(req)
}

// GetRequest returns the nth recorded request, nil when out of range.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestCount reports how many requests the mock has seen.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset returns the mock to its initial empty state.
func (m *MockHTTPClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.queue = nil
	m.DefaultError = nil
	m.DoFunc = nil
}
