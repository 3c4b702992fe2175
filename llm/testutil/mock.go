// Package testutil provides mock generation clients for testing.
package testutil

import (
	"context"
	"sync"

	"github.com/draftforge/draftforge/llm"
)

// MockClient implements the generation client interface for testing.
// Responses are returned in order; once exhausted the last one repeats.
type MockClient struct {
	mu        sync.Mutex
	Responses []*llm.Response
	Err       error
	Requests  []llm.Request
	callCount int
}

// NewMockClient returns a mock that answers every request with content.
func NewMockClient(content string) *MockClient {
	return &MockClient{
		Responses: []*llm.Response{{
			Content:      content,
			Model:        "mock-model",
			FinishReason: "stop",
		}},
	}
}

// NewMockClientWithResponses returns a mock that replays the given
// contents in order.
func NewMockClientWithResponses(contents ...string) *MockClient {
	responses := make([]*llm.Response, 0, len(contents))
	for _, c := range contents {
		responses = append(responses, &llm.Response{
			Content:      c,
			Model:        "mock-model",
			FinishReason: "stop",
		})
	}
	return &MockClient{Responses: responses}
}

// NewMockClientWithError returns a mock that fails every request.
func NewMockClientWithError(err error) *MockClient {
	return &MockClient{Err: err}
}

// Complete records the request and returns the next scripted response.
func (m *MockClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &llm.Response{Content: "{}", Model: "mock-model", FinishReason: "stop"}, nil
	}
	idx := m.callCount
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.callCount++
	return m.Responses[idx], nil
}

// CallCount returns how many times Complete has been invoked.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
