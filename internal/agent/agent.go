// Package agent answers chat exchanges locally: it drives a langchaingo chat
// model through a tool loop and streams text and tool events as it goes.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/flock/internal/stream"
	"github.com/raphaelgruber/flock/internal/toolhost"
)

// DefaultSystemPrompt frames the assistant for file and content questions.
const DefaultSystemPrompt = `You are flock, a helpful assistant working inside the user's project directory.
Use the available tools to read files, list directories and search text before answering questions about the project.
Keep answers concise and cite file paths where relevant.`

// DefaultMaxSteps bounds the number of model calls per exchange.
const DefaultMaxSteps = 8

// FinishMaxSteps is the finish reason when the tool loop hits its bound.
const FinishMaxSteps = "max-steps"

// ToolExecutor lists and runs tools. *toolhost.Executor implements it.
type ToolExecutor interface {
	Tools(ctx context.Context) ([]*mcp.Tool, error)
	Call(ctx context.Context, name string, args json.RawMessage) (toolhost.Result, error)
}

// Agent implements stream.Streamer on top of a chat model.
type Agent struct {
	model        llms.Model
	tools        ToolExecutor
	systemPrompt string
	maxSteps     int
	logger       *slog.Logger
	newID        func() string
}

// Option configures an Agent.
type Option func(*Agent)

// WithTools lets the model call tools through e.
func WithTools(e ToolExecutor) Option {
	return func(a *Agent) {
		a.tools = e
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt. Empty disables the system message.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) {
		a.systemPrompt = prompt
	}
}

// WithMaxSteps sets the tool loop bound.
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithIDGenerator replaces the id generator for messages and tool calls.
func WithIDGenerator(fn func() string) Option {
	return func(a *Agent) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// New creates an agent over model.
func New(model llms.Model, opts ...Option) *Agent {
	a := &Agent{
		model:        model,
		systemPrompt: DefaultSystemPrompt,
		maxSteps:     DefaultMaxSteps,
		logger:       slog.Default(),
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stream implements stream.Streamer.
func (a *Agent) Stream(ctx context.Context, req stream.Request, handle stream.Handler) error {
	messages := toMessageContent(a.systemPrompt, req.Messages)

	tools, err := a.llmTools(ctx)
	if err != nil {
		return err
	}

	if err := handle(stream.StepStart{MessageID: a.newID()}); err != nil {
		return err
	}

	var usage stream.Usage
	for step := 0; step < a.maxSteps; step++ {
		start := time.Now()
		choice, streamed, err := a.generate(ctx, messages, tools, handle)
		if err != nil {
			return err
		}
		addUsage(&usage, choice.GenerationInfo)

		a.logger.Debug("model step finished",
			"session_id", req.SessionID,
			"step", step,
			"tool_calls", len(choice.ToolCalls),
			"duration_ms", time.Since(start).Milliseconds())

		if !streamed && choice.Content != "" {
			if err := handle(stream.TextDelta{Text: choice.Content}); err != nil {
				return err
			}
		}

		if len(choice.ToolCalls) == 0 {
			reason := choice.StopReason
			if reason == "" {
				reason = "stop"
			}
			return handle(stream.Finish{Reason: reason, Usage: usage})
		}

		ai := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			ai.Parts = append(ai.Parts, llms.TextContent{Text: choice.Content})
		}
		var responses []llms.MessageContent
		for _, tc := range choice.ToolCalls {
			call, resp, err := a.runTool(ctx, tc, handle)
			if err != nil {
				return err
			}
			ai.Parts = append(ai.Parts, call)
			responses = append(responses, resp)
		}
		messages = append(messages, ai)
		messages = append(messages, responses...)
	}

	a.logger.Warn("tool loop hit step limit", "session_id", req.SessionID, "max_steps", a.maxSteps)
	return handle(stream.Finish{Reason: FinishMaxSteps, Usage: usage})
}

// generate runs one model call, streaming text deltas to handle.
func (a *Agent) generate(ctx context.Context, messages []llms.MessageContent, tools []llms.Tool, handle stream.Handler) (*llms.ContentChoice, bool, error) {
	streamed := false
	var handlerErr error
	opts := []llms.CallOption{
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			streamed = true
			if err := handle(stream.TextDelta{Text: string(chunk)}); err != nil {
				handlerErr = err
				return err
			}
			return nil
		}),
	}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(tools))
	}

	resp, err := a.model.GenerateContent(ctx, messages, opts...)
	if handlerErr != nil {
		return nil, streamed, handlerErr
	}
	if err != nil {
		return nil, streamed, wrapFatalError(fmt.Errorf("generate: %w", err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, streamed, errors.New("generate: no response choices")
	}
	return resp.Choices[0], streamed, nil
}

// runTool announces, executes and reports one tool call. Tool failures become
// error results for the model rather than stream failures.
func (a *Agent) runTool(ctx context.Context, tc llms.ToolCall, handle stream.Handler) (llms.ToolCall, llms.MessageContent, error) {
	if tc.ID == "" {
		tc.ID = a.newID()
	}
	if tc.Type == "" {
		tc.Type = "function"
	}
	var name, rawArgs string
	if tc.FunctionCall != nil {
		name, rawArgs = tc.FunctionCall.Name, tc.FunctionCall.Arguments
	}
	args := json.RawMessage(argsString(json.RawMessage(rawArgs)))
	if !json.Valid(args) {
		args = json.RawMessage("{}")
	}

	if err := handle(stream.ToolCall{ToolCallID: tc.ID, ToolName: name, Args: args}); err != nil {
		return tc, llms.MessageContent{}, err
	}

	res := a.callTool(ctx, name, args)
	if err := ctx.Err(); err != nil {
		return tc, llms.MessageContent{}, err
	}
	if err := handle(stream.ToolResult{ToolCallID: tc.ID, Result: res.JSON}); err != nil {
		return tc, llms.MessageContent{}, err
	}

	text := res.Text
	if res.IsError {
		text = "Error: " + text
	}
	resp := llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: tc.ID,
			Name:       name,
			Content:    text,
		}},
	}
	return tc, resp, nil
}

func (a *Agent) callTool(ctx context.Context, name string, args json.RawMessage) toolhost.Result {
	if a.tools == nil {
		return errorResult(ErrNoToolHost.Error())
	}
	res, err := a.tools.Call(ctx, name, args)
	if err != nil {
		a.logger.Warn("tool call failed", "tool", name, "error", err)
		return errorResult(err.Error())
	}
	return res
}

// errorResult builds a failed result in the same shape the tool host returns.
func errorResult(text string) toolhost.Result {
	raw, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
		"isError": true,
	})
	return toolhost.Result{JSON: raw, Text: text, IsError: true}
}

func (a *Agent) llmTools(ctx context.Context) ([]llms.Tool, error) {
	if a.tools == nil {
		return nil, nil
	}
	list, err := a.tools.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	out := make([]llms.Tool, 0, len(list))
	for _, t := range list {
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out, nil
}

// addUsage adds the token counts a provider reported in GenerationInfo.
// Providers disagree on key names.
func addUsage(u *stream.Usage, info map[string]any) {
	u.PromptTokens += firstInt(info, "PromptTokens", "InputTokens", "prompt_tokens", "input_tokens")
	u.CompletionTokens += firstInt(info, "CompletionTokens", "OutputTokens", "completion_tokens", "output_tokens")
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
