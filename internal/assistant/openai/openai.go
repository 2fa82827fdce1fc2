// Package openai implements assistant.Backend over the OpenAI Assistants
// API (threads, messages, runs).
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zulandar/keith/internal/assistant"
)

// Client implements assistant.Backend and assistant.Verifier.
type Client struct {
	api         sdk.Client
	assistantID string
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	APIKey      string
	AssistantID string       // asst_... used for every run
	BaseURL     string       // optional; defaults to the public API
	HTTPClient  *http.Client // optional
}

// New creates a Client. SDK-level retries are disabled: the run poller owns
// the retry policy.
func New(opts ClientOpts) (*Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if opts.AssistantID == "" {
		return nil, fmt.Errorf("openai: assistant id is required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &Client{
		api:         sdk.NewClient(reqOpts...),
		assistantID: opts.AssistantID,
	}, nil
}

// Verify retrieves the configured assistant and returns its name.
func (c *Client) Verify(ctx context.Context) (string, error) {
	a, err := c.api.Beta.Assistants.Get(ctx, c.assistantID)
	if err != nil {
		return "", classify("get assistant", err)
	}
	return a.Name, nil
}

// CreateConversation creates a new thread.
func (c *Client) CreateConversation(ctx context.Context) (string, error) {
	th, err := c.api.Beta.Threads.New(ctx, sdk.BetaThreadNewParams{})
	if err != nil {
		return "", classify(assistant.OpCreateConversation, err)
	}
	return th.ID, nil
}

// PostMessage adds a plain-text message to a thread.
func (c *Client) PostMessage(ctx context.Context, conversationID string, role assistant.Role, text string) error {
	_, err := c.api.Beta.Threads.Messages.New(ctx, conversationID, sdk.BetaThreadMessageNewParams{
		Role: sdk.BetaThreadMessageNewParamsRole(role),
		Content: sdk.BetaThreadMessageNewParamsContentUnion{
			OfString: sdk.String(text),
		},
	})
	if err != nil {
		return classify(assistant.OpPostMessage, err)
	}
	return nil
}

// CreateRun starts the configured assistant over a thread.
func (c *Client) CreateRun(ctx context.Context, conversationID string) (assistant.Run, error) {
	run, err := c.api.Beta.Threads.Runs.New(ctx, conversationID, sdk.BetaThreadRunNewParams{
		AssistantID: c.assistantID,
	})
	if err != nil {
		return assistant.Run{}, classify(assistant.OpCreateRun, err)
	}
	return convertRun(run), nil
}

// GetRun retrieves a run.
func (c *Client) GetRun(ctx context.Context, conversationID, runID string) (assistant.Run, error) {
	run, err := c.api.Beta.Threads.Runs.Get(ctx, conversationID, runID)
	if err != nil {
		return assistant.Run{}, classify(assistant.OpGetRun, err)
	}
	return convertRun(run), nil
}

// CancelRun requests cancellation of a run.
func (c *Client) CancelRun(ctx context.Context, conversationID, runID string) error {
	if _, err := c.api.Beta.Threads.Runs.Cancel(ctx, conversationID, runID); err != nil {
		return classify(assistant.OpCancelRun, err)
	}
	return nil
}

// ListMessages returns the first page of a thread's messages. The newest
// reply of a just-finished run is always on the first page in desc order.
func (c *Client) ListMessages(ctx context.Context, conversationID string, order assistant.Order) ([]assistant.Message, error) {
	page, err := c.api.Beta.Threads.Messages.List(ctx, conversationID, sdk.BetaThreadMessageListParams{
		Order: sdk.BetaThreadMessageListParamsOrder(order),
	})
	if err != nil {
		return nil, classify(assistant.OpListMessages, err)
	}
	out := make([]assistant.Message, 0, len(page.Data))
	for _, m := range page.Data {
		out = append(out, convertMessage(m))
	}
	return out, nil
}

func convertRun(r *sdk.Run) assistant.Run {
	raw := string(r.Status)
	run := assistant.Run{
		ID:        r.ID,
		Status:    mapStatus(raw),
		RawStatus: raw,
	}
	if r.LastError.Code != "" || r.LastError.Message != "" {
		run.LastError = &assistant.RunError{
			Code:    string(r.LastError.Code),
			Message: r.LastError.Message,
		}
	}
	return run
}

// mapStatus folds backend statuses into the run lifecycle. Statuses the
// lifecycle does not model ("cancelling", "incomplete") become unknown.
func mapStatus(raw string) assistant.RunStatus {
	switch s := assistant.RunStatus(raw); s {
	case assistant.StatusQueued, assistant.StatusInProgress, assistant.StatusCompleted,
		assistant.StatusFailed, assistant.StatusCancelled, assistant.StatusExpired,
		assistant.StatusRequiresAction:
		return s
	default:
		return assistant.StatusUnknown
	}
}

func convertMessage(m sdk.Message) assistant.Message {
	msg := assistant.Message{
		ID:    m.ID,
		RunID: m.RunID,
		Role:  assistant.Role(m.Role),
	}
	for _, c := range m.Content {
		block := assistant.ContentBlock{Type: c.Type}
		if c.Type == "text" {
			block.Text = c.Text.Value
		}
		msg.Content = append(msg.Content, block)
	}
	return msg
}

// classify wraps an SDK error as an *assistant.Error.
func classify(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &assistant.Error{
			Op:         op,
			Kind:       assistant.KindForStatus(apiErr.StatusCode),
			StatusCode: apiErr.StatusCode,
			Err:        err,
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return assistant.NewError(op, assistant.KindOther, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return assistant.NewError(op, assistant.KindTransient, err)
	}
	return assistant.NewError(op, assistant.KindOther, err)
}
