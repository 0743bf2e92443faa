// Package nlq answers natural-language questions about the ledger without
// letting a language model assert numbers on its own authority. A planner
// proposes tool calls, Validate decides whether they run, the query layer
// computes every number, and a grounding guard checks the narrated answer.
package nlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/finledger/internal/ledger"
	"github.com/MikeSquared-Agency/finledger/internal/llm"
	"github.com/MikeSquared-Agency/finledger/internal/metrics"
	"github.com/MikeSquared-Agency/finledger/internal/query"
)

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// State is a step of a chat turn.
type State string

const (
	StateAwaitingQuestion State = "AWAITING_QUESTION"
	StatePlanning         State = "PLANNING"
	StateValidating       State = "VALIDATING"
	StateExecuting        State = "EXECUTING"
	StateNarrating        State = "NARRATING"
	StateClarifying       State = "CLARIFYING"
	StateDone             State = "DONE"
)

// Turn outcomes.
const (
	OutcomeAnswer        = "answer"
	OutcomeFactSummary   = "fact_summary"
	OutcomeClarification = "clarification"
)

// ToolOutput is the result of one executed call. Error is set instead of
// Result when the call failed.
type ToolOutput struct {
	Call   string `json:"call"`
	Args   Call   `json:"args"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ToolCall records a call made during a turn.
type ToolCall struct {
	Name string `json:"name"`
	Args Call   `json:"args"`
}

// Response is the terminal payload of a chat turn.
type Response struct {
	SessionID   uuid.UUID    `json:"session_id"`
	Answer      string       `json:"answer"`
	Outcome     string       `json:"outcome"`
	ToolCalls   []ToolCall   `json:"tool_calls"`
	ToolOutputs []ToolOutput `json:"tool_outputs"`
	States      []State      `json:"states"`
	Reasons     []string     `json:"reasons,omitempty"`
}

// History persists conversation turns per session.
type History interface {
	EnsureSession(ctx context.Context, id uuid.UUID) error
	RecentMessages(ctx context.Context, id uuid.UUID, limit int) ([]llm.Message, error)
	AppendMessages(ctx context.Context, id uuid.UUID, msgs ...llm.Message) error
}

// Options tune a Service.
type Options struct {
	// Timeout bounds each planner and narrator call.
	Timeout time.Duration
	// HistoryLimit is how many past messages the planner sees.
	HistoryLimit int
}

// Service runs chat turns.
type Service struct {
	planner  Planner
	narrator Narrator
	query    *query.Service
	history  History
	opts     Options
	logger   *slog.Logger
}

// NewService builds a chat service. history may be nil, in which case turns
// are not persisted.
func NewService(planner Planner, narrator Narrator, q *query.Service, history History, opts Options, logger *slog.Logger) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	return &Service{
		planner:  planner,
		narrator: narrator,
		query:    q,
		history:  history,
		opts:     opts,
		logger:   logger,
	}
}

type turn struct {
	resp *Response
}

func (t *turn) enter(s State) {
	t.resp.States = append(t.resp.States, s)
}

// Chat answers one question. A zero sessionID starts a new session. The
// returned error is non-nil only for a blank question, a cancelled context
// or a failed history write; model failures degrade into the response.
func (s *Service) Chat(ctx context.Context, sessionID uuid.UUID, question string) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if sessionID == uuid.Nil {
		sessionID = uuid.New()
	}

	t := &turn{resp: &Response{
		SessionID:   sessionID,
		ToolCalls:   []ToolCall{},
		ToolOutputs: []ToolOutput{},
	}}
	t.enter(StateAwaitingQuestion)

	history := s.loadHistory(ctx, sessionID)

	t.enter(StatePlanning)
	raw, err := s.plan(ctx, question, history)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	t.enter(StateValidating)
	var outcome Outcome
	if err != nil {
		s.logger.Warn("planner failed", "session_id", sessionID, "error", err)
		outcome = reject(fmt.Sprintf("planner unavailable: %v", err))
	} else {
		outcome = Validate(raw)
	}

	switch o := outcome.(type) {
	case ValidPlan:
		s.execute(ctx, t, o)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.narrate(ctx, t, question)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	case Clarification:
		s.clarify(t, question, o)
	}
	t.enter(StateDone)
	metrics.ChatTurns.WithLabelValues(t.resp.Outcome).Inc()

	if err := s.saveTurn(ctx, sessionID, question, t.resp.Answer); err != nil {
		return nil, err
	}

	s.logger.Info("chat turn complete",
		"session_id", sessionID,
		"outcome", t.resp.Outcome,
		"calls", len(t.resp.ToolCalls),
	)
	return t.resp, nil
}

func (s *Service) plan(ctx context.Context, question string, history []llm.Message) (string, error) {
	periods, err := s.query.ListPeriods(ctx, false)
	if err != nil {
		s.logger.Warn("list periods for planner failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.planner.Plan(ctx, PlanRequest{
		Question:   question,
		History:    history,
		Metrics:    ledger.Metrics(),
		Categories: ledger.Categories(),
		Periods:    periods,
	})
	observeLLM("plan", start, err)
	return raw, err
}

func (s *Service) execute(ctx context.Context, t *turn, plan ValidPlan) {
	t.enter(StateExecuting)
	for _, call := range plan.Calls {
		t.resp.ToolCalls = append(t.resp.ToolCalls, ToolCall{Name: call.Name(), Args: call})

		out := ToolOutput{Call: call.Name(), Args: call}
		result, err := call.execute(ctx, s.query)
		if err != nil {
			out.Error = err.Error()
			metrics.QueryRequests.WithLabelValues(call.Name(), "error").Inc()
		} else {
			out.Result = result
			metrics.QueryRequests.WithLabelValues(call.Name(), "ok").Inc()
		}
		t.resp.ToolOutputs = append(t.resp.ToolOutputs, out)
	}
}

func (s *Service) narrate(ctx context.Context, t *turn, question string) {
	t.enter(StateNarrating)

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	answer, err := s.narrator.Narrate(ctx, question, t.resp.ToolOutputs)
	observeLLM("narrate", start, err)

	switch {
	case err != nil:
		s.logger.Warn("narrator failed, using fact summary", "error", err)
		t.resp.Answer, t.resp.Outcome = FactSummary(t.resp.ToolOutputs), OutcomeFactSummary
	case strings.TrimSpace(answer) == "":
		t.resp.Answer, t.resp.Outcome = FactSummary(t.resp.ToolOutputs), OutcomeFactSummary
	default:
		if bad := Ungrounded(answer, question, t.resp.ToolOutputs); len(bad) > 0 {
			s.logger.Warn("narration cites numbers absent from tool outputs", "numbers", bad)
			metrics.UngroundedAnswers.Inc()
			t.resp.Answer, t.resp.Outcome = FactSummary(t.resp.ToolOutputs), OutcomeFactSummary
			t.resp.Reasons = []string{"answer replaced: ungrounded numbers " + strings.Join(bad, ", ")}
			return
		}
		t.resp.Answer, t.resp.Outcome = answer, OutcomeAnswer
	}
}

func (s *Service) clarify(t *turn, question string, c Clarification) {
	t.enter(StateClarifying)
	msg := c.Message
	if !c.FromPlanner {
		metrics.PlanRejections.Inc()
		s.logger.Info("plan rejected", "reasons", c.Reasons)
	}
	if c.FromPlanner && !safeClarification(msg, question) {
		s.logger.Warn("planner clarification replaced", "clarification", msg)
		msg = FixedClarification
	}
	t.resp.Answer = msg
	t.resp.Outcome = OutcomeClarification
	t.resp.Reasons = c.Reasons
}

// maxClarification bounds a planner-authored question, in runes.
const maxClarification = 200

// unsafeClarificationRe flags links, host names and instruction-like wording.
var unsafeClarificationRe = regexp.MustCompile(`(?i)https?://|www\.|\b[a-z0-9-]+\.[a-z]{2,}\b|\b(?:system|override|ignore|instructions?|prompt|password|api[ _-]?key|token)\b`)

// safeClarification reports whether a planner-authored question may be shown
// as is: one short line ending in a question mark, with no links, no
// instruction-like wording and no numbers of its own.
func safeClarification(msg, question string) bool {
	msg = strings.TrimSpace(msg)
	return msg != "" &&
		utf8.RuneCountInString(msg) <= maxClarification &&
		!strings.ContainsAny(msg, "\r\n") &&
		strings.HasSuffix(msg, "?") &&
		!unsafeClarificationRe.MatchString(msg) &&
		len(Ungrounded(msg, question, nil)) == 0
}

func (s *Service) loadHistory(ctx context.Context, id uuid.UUID) []llm.Message {
	if s.history == nil {
		return nil
	}
	if err := s.history.EnsureSession(ctx, id); err != nil {
		s.logger.Warn("ensure chat session failed", "session_id", id, "error", err)
		return nil
	}
	msgs, err := s.history.RecentMessages(ctx, id, s.opts.HistoryLimit)
	if err != nil {
		s.logger.Warn("load chat history failed", "session_id", id, "error", err)
		return nil
	}
	return msgs
}

func (s *Service) saveTurn(ctx context.Context, id uuid.UUID, question, answer string) error {
	if s.history == nil {
		return nil
	}
	err := s.history.AppendMessages(ctx, id,
		llm.Message{Role: llm.RoleUser, Content: question},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
	if err != nil {
		return fmt.Errorf("save chat turn: %w", err)
	}
	return nil
}

func observeLLM(stage string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.LLMDuration.WithLabelValues(stage, result).Observe(time.Since(start).Seconds())
}
