// Package llmtest provides a scripted llm.Completer for tests.
package llmtest

import (
	"context"
	"sync"

	"transfer-advisor/internal/llm"
)

type Step struct {
	Content      string
	FinishReason string
	Err          error
}

// Completer replays Steps in order; the last step repeats once the script
// runs out. An empty script fails every call with a transport failure.
type Completer struct {
	mu    sync.Mutex
	steps []Step
	calls []llm.Request
	Name  string
}

func New(steps ...Step) *Completer {
	return &Completer{steps: steps, Name: "scripted-model"}
}

// Replies scripts successful completions with the given contents.
func Replies(contents ...string) *Completer {
	steps := make([]Step, len(contents))
	for i, c := range contents {
		steps[i] = Step{Content: c, FinishReason: "stop"}
	}
	return New(steps...)
}

// Unreachable fails every call the way a refused connection does.
func Unreachable() *Completer {
	return New(Step{Err: &llm.CallFailure{Kind: llm.KindTransport, Message: "connection refused"}})
}

func (c *Completer) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req)
	if err := ctx.Err(); err != nil {
		return nil, &llm.CallFailure{Kind: llm.KindCancelled, Message: err.Error(), Err: err}
	}
	if len(c.steps) == 0 {
		return nil, &llm.CallFailure{Kind: llm.KindTransport, Message: "no scripted response"}
	}

	step := c.steps[0]
	if len(c.steps) > 1 {
		c.steps = c.steps[1:]
	}
	if step.Err != nil {
		return nil, step.Err
	}
	finish := step.FinishReason
	if finish == "" {
		finish = "stop"
	}
	return &llm.Completion{Content: step.Content, FinishReason: finish}, nil
}

func (c *Completer) Model() string {
	return c.Name
}

func (c *Completer) Calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.calls))
	copy(out, c.calls)
	return out
}
