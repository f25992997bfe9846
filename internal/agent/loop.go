// Package agent runs the bounded tool-calling conversation with the language
// model.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/executor"
	"github.com/KafClaw/NetClaw/internal/policy"
	"github.com/KafClaw/NetClaw/internal/provider"
	"github.com/KafClaw/NetClaw/internal/tools"
)

const (
	defaultMaxIterations = 10
	maxParallelReads     = 4
)

// Executor is the tool executor surface the loop drives.
type Executor interface {
	Definitions() []tools.Definition
	Classify(tool string, args map[string]any) (policy.Tier, error)
	Execute(ctx context.Context, call executor.Call) executor.Result
}

// Metrics receives loop-level observations. Optional.
type Metrics interface {
	ModelCall(d time.Duration, err error)
	RunFinished(resultType string, iterations int)
}

// LoopOptions configures a Loop.
type LoopOptions struct {
	Provider      provider.LLMProvider
	Executor      Executor
	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
	SystemPrompt  string
	Metrics       Metrics
	Logger        *slog.Logger
}

// Loop is the agent loop. One Loop serves many concurrent conversations;
// each Run call owns its transcript.
type Loop struct {
	provider      provider.LLMProvider
	executor      Executor
	model         string
	maxTokens     int
	temperature   float64
	maxIterations int
	systemPrompt  string
	metrics       Metrics
	logger        *slog.Logger
}

// NewLoop creates a new agent loop.
func NewLoop(opts LoopOptions) *Loop {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	prompt := opts.SystemPrompt
	if prompt == "" {
		prompt = SystemPrompt
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider:      opts.Provider,
		executor:      opts.Executor,
		model:         opts.Model,
		maxTokens:     maxTokens,
		temperature:   opts.Temperature,
		maxIterations: maxIter,
		systemPrompt:  prompt,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

// Request is one user turn.
type Request struct {
	Message     string
	Context     map[string]any // rendered as a JSON block after the message
	RequestedBy string
	Origin      approval.Origin
	TraceID     string
}

// Run drives the conversation until the model answers, a tool call needs
// confirmation, or the iteration cap is hit.
func (l *Loop) Run(ctx context.Context, req Request) executor.Result {
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	log := l.logger.With("trace_id", traceID)

	content := req.Message
	if len(req.Context) > 0 {
		if b, err := json.MarshalIndent(req.Context, "", "  "); err == nil {
			content += "\n\nContext:\n```json\n" + string(b) + "\n```"
		}
	}
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: l.systemPrompt},
		{Role: provider.RoleUser, Content: content},
	}
	toolDefs := l.buildToolDefinitions()

	result, iterations := l.runAgentLoop(ctx, log, messages, toolDefs, req)
	if l.metrics != nil {
		l.metrics.RunFinished(result.Type(), iterations)
	}
	log.Info("Agent run finished", "result", result.Type(), "iterations", iterations)
	return result
}

func (l *Loop) runAgentLoop(ctx context.Context, log *slog.Logger, messages []provider.Message, toolDefs []provider.ToolDefinition, req Request) (executor.Result, int) {
	for i := 0; i < l.maxIterations; i++ {
		start := time.Now()
		resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if l.metrics != nil {
			l.metrics.ModelCall(time.Since(start), err)
		}
		if err != nil {
			log.Error("LLM call failed", "iteration", i, "temporary", provider.IsTemporary(err), "error", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return executor.Failure{Kind: executor.FailureCancelled, Detail: err.Error()}, i + 1
			}
			return executor.Failure{Kind: executor.FailureProvider, Detail: err.Error()}, i + 1
		}
		log.Debug("LLM responded", "iteration", i, "tool_calls", len(resp.ToolCalls), "tokens", resp.Usage.TotalTokens)

		if len(resp.ToolCalls) == 0 {
			return executor.Answer{Text: resp.Content}, i + 1
		}

		messages = append(messages, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		results, pending := l.executeBatch(ctx, resp.ToolCalls, req)
		if pending != nil {
			// Results of reads in the same batch are dropped: the
			// conversation cannot continue until the action resolves.
			log.Info("Tool call needs confirmation", "tool", pending.Action.ToolName,
				"token_id", approval.Fingerprint(pending.Action.Token))
			return *pending, i + 1
		}

		for j, tc := range resp.ToolCalls {
			var content string
			switch r := results[j].(type) {
			case executor.Answer:
				content = r.Text
			case executor.Failure:
				if r.Kind == executor.FailureAuth || r.Kind == executor.FailureCancelled {
					return r, i + 1
				}
				content = "Error: " + r.Error()
			}
			messages = append(messages, provider.Message{
				Role:       provider.RoleTool,
				Content:    content,
				ToolCallID: tc.ID,
			})
			log.Debug("Tool executed", "name", tc.Name, "result_length", len(content))
		}
	}

	log.Warn("Max iterations reached", "max", l.maxIterations)
	return executor.Failure{
		Kind:   executor.FailureIterationLimit,
		Detail: fmt.Sprintf("no final answer after %d iterations", l.maxIterations),
	}, l.maxIterations
}

// executeBatch runs the safe calls of one model turn in parallel and the
// gated calls in order, stopping at the first one that needs confirmation.
// All reads are allowed to finish before it returns.
func (l *Loop) executeBatch(ctx context.Context, calls []provider.ToolCall, req Request) ([]executor.Result, *executor.NeedsConfirmation) {
	results := make([]executor.Result, len(calls))
	var g errgroup.Group
	g.SetLimit(maxParallelReads)

	var gated []int
	for i, tc := range calls {
		tier, _ := l.executor.Classify(tc.Name, tc.Arguments)
		if tier.RequiresConfirmation() {
			gated = append(gated, i)
			continue
		}
		g.Go(func() error {
			results[i] = l.executor.Execute(ctx, l.call(tc, req))
			return nil
		})
	}

	var pending *executor.NeedsConfirmation
	for _, i := range gated {
		r := l.executor.Execute(ctx, l.call(calls[i], req))
		results[i] = r
		if nc, ok := r.(executor.NeedsConfirmation); ok {
			pending = &nc
			break
		}
	}
	_ = g.Wait()
	return results, pending
}

func (l *Loop) call(tc provider.ToolCall, req Request) executor.Call {
	return executor.Call{
		Tool:        tc.Name,
		Arguments:   tc.Arguments,
		RequestedBy: req.RequestedBy,
		Origin:      req.Origin,
	}
}

func (l *Loop) buildToolDefinitions() []provider.ToolDefinition {
	defs := l.executor.Definitions()
	out := make([]provider.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, provider.FunctionTool(d.Name, d.Description, d.Parameters))
	}
	return out
}

// truncateStr cuts s to at most maxLen bytes on a rune boundary.
func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
