// Package ask coordinates a single question through the conversation store,
// the SQL agent, the response formatter, and the optional chart pipeline.
package ask

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqlchat/sqlchat/internal/agent"
	"github.com/sqlchat/sqlchat/internal/capture"
	"github.com/sqlchat/sqlchat/internal/chart"
	"github.com/sqlchat/sqlchat/internal/conversation"
	"github.com/sqlchat/sqlchat/internal/htmlfmt"
	"github.com/sqlchat/sqlchat/internal/observability"
)

// Fallback phrasing mirrors what callers of the service already rely on.
const (
	emptyQuestionFallback = "Provide examples of records to search"
	parseFailureAnswer    = "I'm sorry, there was an issue processing your request. Could you try rephrasing your question?"
)

// Response is the answer payload for one question.
type Response struct {
	Summary      string  `json:"summary"`
	SQLStatement string  `json:"sql_statement"`
	ChartImage   *string `json:"chart_image"`
}

// ChartArchive persists rendered charts. Optional.
type ChartArchive interface {
	SaveChart(ctx context.Context, sessionID string, png []byte) (string, error)
}

// ChartRenderer draws the captured statement as a PNG.
type ChartRenderer interface {
	Render(ctx context.Context, statement string, kind chart.Kind) ([]byte, error)
}

// Service answers questions for sessions. All fields except Charts and
// Archive are required.
type Service struct {
	conversations *conversation.Manager
	agent         agent.Agent
	charts        ChartRenderer
	archive       ChartArchive
	logger        *slog.Logger
	invokeTimeout time.Duration
}

type Option func(*Service)

// WithCharts enables chart rendering for questions that ask for one.
func WithCharts(renderer ChartRenderer) Option {
	return func(s *Service) { s.charts = renderer }
}

// WithArchive stores every rendered chart in an object archive.
func WithArchive(store ChartArchive) Option {
	return func(s *Service) { s.archive = store }
}

// WithInvokeTimeout bounds a single agent invocation.
func WithInvokeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.invokeTimeout = d
		}
	}
}

func NewService(conversations *conversation.Manager, sqlAgent agent.Agent, logger *slog.Logger, opts ...Option) (*Service, error) {
	if conversations == nil {
		return nil, fmt.Errorf("conversation manager is required")
	}
	if sqlAgent == nil {
		return nil, fmt.Errorf("agent is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	service := &Service{
		conversations: conversations,
		agent:         sqlAgent,
		logger:        logger,
		invokeTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Answer runs one question through the full pipeline. A parse failure from
// the agent is not an error: the session records an apology and the caller
// gets it as the summary. Any other agent failure is returned after the
// session records that the question could not be answered.
func (s *Service) Answer(ctx context.Context, sessionID, question string) (Response, error) {
	if strings.TrimSpace(question) == "" {
		question = emptyQuestionFallback
	}
	observability.ObserveQuestion()

	if err := s.conversations.AppendUser(ctx, sessionID, question); err != nil {
		return Response{}, fmt.Errorf("append question: %w", err)
	}
	prompt, err := s.conversations.BuildPrompt(ctx, sessionID)
	if err != nil {
		return Response{}, fmt.Errorf("build prompt: %w", err)
	}

	// Each request gets its own recorder so concurrent sessions never see
	// one another's statements.
	recorder := capture.NewRecorder()
	ctx = capture.WithRecorder(ctx, recorder)

	answer, invokeErr := s.invoke(ctx, prompt)

	var finalAnswer string
	switch {
	case invokeErr == nil:
		finalAnswer = answer.Output
	case isParseError(invokeErr):
		observability.IncrementAgentParseFailure()
		s.logger.Error("agent parse failure", "session_id", sessionID, "error", invokeErr)
		finalAnswer = parseFailureAnswer
	default:
		s.logger.Error("agent invocation failed", "session_id", sessionID, "error", invokeErr)
		if appendErr := s.conversations.AppendAssistant(ctx, sessionID, "The question could not be answered."); appendErr != nil {
			s.logger.Error("record failed turn", "session_id", sessionID, "error", appendErr)
		}
		return Response{}, fmt.Errorf("invoke agent: %w", invokeErr)
	}

	if err := s.conversations.AppendAssistant(ctx, sessionID, finalAnswer); err != nil {
		return Response{}, fmt.Errorf("append answer: %w", err)
	}

	response := Response{
		Summary:      htmlfmt.Format(finalAnswer),
		SQLStatement: recorder.Last(),
	}

	if s.charts != nil && chart.WantsChart(question) {
		if image := s.renderChart(ctx, sessionID, question, recorder.Last()); image != "" {
			response.ChartImage = &image
		}
	}
	return response, nil
}

// Reset clears the session's history.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	return s.conversations.Reset(ctx, sessionID)
}

func (s *Service) invoke(ctx context.Context, prompt []conversation.Message) (agent.Answer, error) {
	if s.invokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.invokeTimeout)
		defer cancel()
	}
	started := time.Now()
	answer, err := s.agent.Invoke(ctx, prompt)
	observability.ObserveAgentInvoke(time.Since(started))
	return answer, err
}

// renderChart is best effort: any failure degrades the answer to text only.
func (s *Service) renderChart(ctx context.Context, sessionID, question, statement string) string {
	kind := chart.KindForQuestion(question)
	png, err := s.charts.Render(ctx, statement, kind)
	if err != nil {
		observability.IncrementChartDegradation()
		if errors.Is(err, chart.ErrNotRenderable) {
			s.logger.Info("chart skipped", "session_id", sessionID, "reason", err)
		} else {
			s.logger.Error("chart render failed", "session_id", sessionID, "error", err)
		}
		return ""
	}
	observability.IncrementChartRendered(string(kind))

	if s.archive != nil {
		if key, archiveErr := s.archive.SaveChart(ctx, sessionID, png); archiveErr != nil {
			s.logger.Error("chart archive failed", "session_id", sessionID, "error", archiveErr)
		} else {
			s.logger.Info("chart archived", "session_id", sessionID, "key", key)
		}
	}
	return base64.StdEncoding.EncodeToString(png)
}

func isParseError(err error) bool {
	var parseErr *agent.ParseError
	return errors.As(err, &parseErr)
}
