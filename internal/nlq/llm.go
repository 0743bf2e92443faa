package nlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/finledger/internal/llm"
	"github.com/MikeSquared-Agency/finledger/internal/query"
)

const (
	planMaxTokens    = 1024
	narrateMaxTokens = 1024
)

// PlanRequest is everything the planner may see.
type PlanRequest struct {
	Question   string
	History    []llm.Message
	Metrics    []string
	Categories []string
	Periods    []query.PeriodRow
}

// Planner produces raw, untrusted plan text for a question.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (string, error)
}

// Narrator turns tool outputs into an answer.
type Narrator interface {
	Narrate(ctx context.Context, question string, outputs []ToolOutput) (string, error)
}

// LLMPlanner asks a language model for a plan.
type LLMPlanner struct {
	llm    llm.Completer
	logger *slog.Logger
}

func NewLLMPlanner(c llm.Completer, logger *slog.Logger) *LLMPlanner {
	return &LLMPlanner{llm: c, logger: logger}
}

// Plan returns the model's reply. A reply without a JSON object is re-asked
// once; whatever comes back the second time goes to validation.
func (p *LLMPlanner) Plan(ctx context.Context, req PlanRequest) (string, error) {
	messages := append(trimHistory(req.History), llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf(planUserPrompt, strings.Join(req.Metrics, ", "), strings.Join(req.Categories, ", "), periodList(req.Periods), req.Question),
	})

	raw, err := p.llm.Complete(ctx, planSystemPrompt, messages, planMaxTokens)
	if err != nil {
		return "", fmt.Errorf("llm plan: %w", err)
	}
	if _, ok := extractJSON(raw); ok {
		return raw, nil
	}

	p.logger.Warn("planner reply is not JSON, re-asking", "raw_len", len(raw))

	messages = append(messages,
		llm.Message{Role: llm.RoleAssistant, Content: raw},
		llm.Message{Role: llm.RoleUser, Content: planReaskPrompt},
	)
	raw, err = p.llm.Complete(ctx, planSystemPrompt, messages, planMaxTokens)
	if err != nil {
		return "", fmt.Errorf("llm plan retry: %w", err)
	}
	return raw, nil
}

// LLMNarrator asks a language model to phrase tool outputs as an answer.
type LLMNarrator struct {
	llm    llm.Completer
	logger *slog.Logger
}

func NewLLMNarrator(c llm.Completer, logger *slog.Logger) *LLMNarrator {
	return &LLMNarrator{llm: c, logger: logger}
}

// Narrate sends only the question and the tool outputs.
func (n *LLMNarrator) Narrate(ctx context.Context, question string, outputs []ToolOutput) (string, error) {
	data, err := json.MarshalIndent(outputs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tool outputs: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(narrateUserPrompt, question, data)},
	}
	answer, err := n.llm.Complete(ctx, narrateSystemPrompt, messages, narrateMaxTokens)
	if err != nil {
		return "", fmt.Errorf("llm narrate: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// trimHistory drops leading assistant turns so the conversation opens with
// the user.
func trimHistory(history []llm.Message) []llm.Message {
	i := 0
	for i < len(history) && history[i].Role != llm.RoleUser {
		i++
	}
	return append([]llm.Message(nil), history[i:]...)
}

func periodList(periods []query.PeriodRow) string {
	if len(periods) == 0 {
		return "none"
	}
	labels := make([]string, 0, len(periods))
	for _, p := range periods {
		labels = append(labels, p.Label)
	}
	return strings.Join(labels, ", ")
}
