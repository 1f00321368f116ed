package llm

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MockResponse configures a single response from the mock client.
type MockResponse struct {
	Content string
	Err     error
}

// MockClient is a scripted gateway for tests.  Responses are returned in
// order; when exhausted, the last one repeats.  Every call is recorded so
// tests can assert on invocation counts and prompt contents.
type MockClient struct {
	mu        sync.Mutex
	responses []MockResponse
	callIndex int
	calls     [][]Message
}

// NewMockClient creates a mock gateway with a sequence of responses.
func NewMockClient(responses ...MockResponse) *MockClient {
	return &MockClient{responses: responses}
}

// Invoke returns the next configured response.
func (m *MockClient) Invoke(_ context.Context, messages []Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, messages)

	if len(m.responses) == 0 {
		return "", errors.New("mock: no responses configured")
	}

	idx := m.callIndex
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	} else {
		m.callIndex++
	}

	resp := m.responses[idx]
	if resp.Err != nil {
		return "", resp.Err
	}
	return resp.Content, nil
}

// CallCount reports how many times Invoke has been called.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the messages of the most recent invocation, or nil.
func (m *MockClient) LastCall() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
