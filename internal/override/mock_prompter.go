package override

import (
	"context"
	"sync"
)

// Response is one scripted answer of a ScriptedPrompter.
type Response struct {
	Text   string
	Cancel bool  // operator dismissed the prompt
	Err    error // prompt failed
}

// ScriptedPrompter implements Prompter for testing. It answers from a
// script; once the script is exhausted PromptLine blocks until ctx ends
// or Release is called, then reports a cancel.
type ScriptedPrompter struct {
	mu          sync.Mutex
	responses   []Response
	prompts     int
	unavailable bool
	release     chan struct{}
	released    bool

	// BeforeAnswer, if set, runs before prompt n (zero-based) answers.
	BeforeAnswer func(n int)
}

// NewScriptedPrompter creates a prompter that answers with lines in order.
func NewScriptedPrompter(lines ...string) *ScriptedPrompter {
	p := &ScriptedPrompter{release: make(chan struct{})}
	for _, l := range lines {
		p.responses = append(p.responses, Response{Text: l})
	}
	return p
}

// Add appends scripted responses.
func (p *ScriptedPrompter) Add(rs ...Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, rs...)
}

// SetAvailable controls what Available reports.
func (p *ScriptedPrompter) SetAvailable(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = !ok
}

// Release unblocks a PromptLine waiting on an exhausted script.
func (p *ScriptedPrompter) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.released {
		p.released = true
		close(p.release)
	}
}

// Prompts returns how many times PromptLine was called.
func (p *ScriptedPrompter) Prompts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts
}

// Available implements Prompter.
func (p *ScriptedPrompter) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unavailable
}

// PromptLine implements Prompter.
func (p *ScriptedPrompter) PromptLine(ctx context.Context, title, question string) (string, bool, error) {
	p.mu.Lock()
	n := p.prompts
	p.prompts++
	hook := p.BeforeAnswer
	var (
		r      Response
		script bool
	)
	if len(p.responses) > 0 {
		r = p.responses[0]
		p.responses = p.responses[1:]
		script = true
	}
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if !script {
		select {
		case <-ctx.Done():
		case <-p.release:
		}
		return "", false, nil
	}
	if r.Err != nil {
		return "", false, r.Err
	}
	if r.Cancel {
		return "", false, nil
	}
	return r.Text, true, nil
}
