package inference

import (
	"context"
	"sync"
	"time"
)

// MockClient is a scripted Client for tests. Each Complete call consumes the
// next queued response (or error); the last entry repeats once the script
// runs out.
type MockClient struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     []Request
}

// MockResponse is one scripted reply.
type MockResponse struct {
	Content string
	Err     error
}

// NewMockClient creates a mock with the given script.
func NewMockClient(responses ...MockResponse) *MockClient {
	return &MockClient{responses: responses}
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	if idx < 0 {
		return &Response{Content: "{}"}, nil
	}
	r := m.responses[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	return &Response{
		Content:          r.Content,
		Model:            "mock",
		PromptTokens:     int64(len(req.User) / 4),
		CompletionTokens: int64(len(r.Content) / 4),
		Latency:          time.Millisecond,
	}, nil
}

// ModelVersion implements Client.
func (m *MockClient) ModelVersion() string {
	return "mock_nlp_pack_v1"
}

// Calls returns the requests seen so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many Complete calls were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
