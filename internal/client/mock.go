package client

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// MockResponse is a canned response returned by MockDoer.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

// MockDoer records requests and replays queued responses in order. Once the
// queue is empty it answers 200 with an empty JSON object.
type MockDoer struct {
	mu        sync.Mutex
	Requests  []*http.Request
	Bodies    []string
	Responses []MockResponse
	next      int
}

// AddResponse queues a response.
func (m *MockDoer) AddResponse(statusCode int, body string) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddError queues a transport error.
func (m *MockDoer) AddError(err error) *MockDoer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, MockResponse{Error: err})
	return m
}

func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	body := ""
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	m.Requests = append(m.Requests, req)
	m.Bodies = append(m.Bodies, body)

	resp := MockResponse{StatusCode: http.StatusOK, Body: "{}"}
	if m.next < len(m.Responses) {
		resp = m.Responses[m.next]
		m.next++
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// RequestCount returns the number of recorded requests.
func (m *MockDoer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Reset clears recorded requests and queued responses.
func (m *MockDoer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = nil
	m.Bodies = nil
	m.Responses = nil
	m.next = 0
}
