// Package llmtest provides a scripted ChatModel for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/langhook/langhook/pkg/llm"
)

// Reply is one scripted model response. Err takes precedence over
// Content when set.
type Reply struct {
	Content          string
	Err              error
	PromptTokens     int
	CompletionTokens int
}

// Model returns scripted replies in order and records every request.
// Safe for concurrent use.
type Model struct {
	mu      sync.Mutex
	replies []Reply
	calls   []llm.Request
	offline bool
}

var _ llm.ChatModel = (*Model)(nil)

// NewModel creates a scripted model that serves the given replies in
// order. Calls beyond the script fail with an error.
func NewModel(replies ...Reply) *Model {
	return &Model{replies: replies}
}

// Offline creates a model whose Available() is false and whose Complete
// always returns llm.ErrUnavailable.
func Offline() *Model {
	return &Model{offline: true}
}

// Complete serves the next scripted reply.
func (m *Model) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.offline {
		return nil, llm.ErrUnavailable
	}

	idx := len(m.calls)
	m.calls = append(m.calls, req)
	if idx >= len(m.replies) {
		return nil, fmt.Errorf("no scripted reply for request %d", idx+1)
	}

	reply := m.replies[idx]
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.Completion{
		Content:          reply.Content,
		Model:            req.Model,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
	}, nil
}

// Available reports whether the model serves completions.
func (m *Model) Available() bool {
	return !m.offline
}

// Requests returns a copy of every request received so far.
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.calls...)
}

// LastRequest returns the most recent request, or false when none were
// made.
func (m *Model) LastRequest() (llm.Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return llm.Request{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// CallCount returns how many completions were requested.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
