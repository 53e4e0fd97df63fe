package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
)

// MockTransport is an http.RoundTripper for tests. Stubs are matched in the
// order they were added; a stub with several responses replays them in
// sequence and then repeats the last one.
//
//	mock := httpclient.NewMockTransport().
//	    StubSequence(http.MethodGet, "/users/1",
//	        httpclient.MockResponse{Status: http.StatusServiceUnavailable},
//	        httpclient.MockResponse{Status: http.StatusOK, Body: `{"id":1}`,
//	            Header: http.Header{"Content-Type": {"application/json"}}},
//	    )
//	adapter, _ := httpclient.NewRequestAdapter(auth, httpclient.WithTransport(mock))
type MockTransport struct {
	mu       sync.Mutex
	stubs    []*stub
	fallback *stub
	requests []RecordedRequest
}

// MockResponse describes a stubbed response or transport error.
type MockResponse struct {
	Status int
	Header http.Header
	Body   string
	Err    error
}

// RecordedRequest is a request seen by MockTransport with its body read.
type RecordedRequest struct {
	*http.Request
	Payload []byte
}

type stub struct {
	matcher   func(*http.Request) bool
	responses []MockResponse
	served    int
}

func (s *stub) next() MockResponse {
	r := s.responses[min(s.served, len(s.responses)-1)]
	s.served++
	return r
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse answers every unmatched request with statusCode and body.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &stub{responses: []MockResponse{{Status: statusCode, Body: body}}}
	return m
}

// StubError fails every unmatched request with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &stub{responses: []MockResponse{{Err: err}}}
	return m
}

// StubPath answers requests for path.
func (m *MockTransport) StubPath(path string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool { return req.URL.Path == path },
		MockResponse{Status: statusCode, Body: body})
}

// StubPathRegex answers requests whose path matches pattern.
func (m *MockTransport) StubPathRegex(pattern string, statusCode int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *http.Request) bool { return re.MatchString(req.URL.Path) },
		MockResponse{Status: statusCode, Body: body})
}

// StubSequence answers method and path with responses in order.
func (m *MockTransport) StubSequence(method, path string, responses ...MockResponse) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.Method == method && req.URL.Path == path
	}, responses...)
}

// StubFunc answers requests matching matcher with responses in order.
func (m *MockTransport) StubFunc(matcher func(*http.Request) bool, responses ...MockResponse) *MockTransport {
	if len(responses) == 0 {
		panic("httpclient: StubFunc requires at least one response")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, &stub{matcher: matcher, responses: responses})
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{Request: req, Payload: body})
	s := m.fallback
	for _, candidate := range m.stubs {
		if candidate.matcher(req) {
			s = candidate
			break
		}
	}
	var r MockResponse
	if s != nil {
		r = s.next()
	}
	m.mu.Unlock()

	switch {
	case s == nil:
		return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
	case r.Err != nil:
		return nil, r.Err
	}

	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}, nil
}

// Requests returns every request seen so far.
func (m *MockTransport) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests seen.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or false if there was none.
func (m *MockTransport) LastRequest() (RecordedRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// Reset clears recorded requests and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.stubs = nil
	m.fallback = nil
}
