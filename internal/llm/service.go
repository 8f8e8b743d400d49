package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RichardoC/legisla/internal/metrics"
	"github.com/RichardoC/legisla/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultTitle   = "Nova Consulta"
	MaxTitleLength = 40

	temperature      = 0.3
	generalMaxTokens = 1000
	lawsMaxTokens    = 1500
	titleMaxTokens   = 20

	emptyAnswer = "Desculpe, não foi possível processar sua consulta."
)

// Provider labels used in logs and metrics.
const (
	providerGeneral = "general"
	providerLaws    = "laws"
	providerTitle   = "title"
)

var (
	ErrGeneralProvider = errors.New("failed to process with AI")
	ErrLawsUnavailable = errors.New("failed to query laws database")
)

// Service routes questions to the general model or the laws endpoint and
// generates conversation titles.
type Service struct {
	llm     llms.Model
	laws    *LawsClient
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New builds a Service backed by an OpenAI-compatible chat model.
func New(baseURL, token, model string, laws *LawsClient, logger *zap.Logger, m *metrics.Metrics) (*Service, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return NewWithModel(llm, laws, logger, m), nil
}

// NewWithModel wires an existing model. laws may be nil, in which case laws
// queries go straight to the fallback.
func NewWithModel(model llms.Model, laws *LawsClient, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{llm: model, laws: laws, logger: logger, metrics: m}
}

func (s *Service) generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	resp, err := s.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, system),
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		},
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Route answers question with the responder selected by queryType.
func (s *Service) Route(ctx context.Context, question string, queryType models.QueryType) (string, error) {
	switch queryType {
	case models.QueryLaws:
		return s.askLaws(ctx, question)
	case models.QueryInternet, "":
		return s.legislativeResponse(ctx, question)
	default:
		return "", fmt.Errorf("unknown query type %q", queryType)
	}
}

func (s *Service) legislativeResponse(ctx context.Context, question string) (string, error) {
	answer, err := s.generate(ctx, legislativePrompt, question, generalMaxTokens)
	if err != nil {
		s.metrics.AICall(providerGeneral, metrics.OutcomeError)
		s.logger.Error("Failed to generate legislative response", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrGeneralProvider, err)
	}
	s.metrics.AICall(providerGeneral, metrics.OutcomeOK)
	if answer == "" {
		return emptyAnswer, nil
	}
	return answer, nil
}

func (s *Service) askLaws(ctx context.Context, question string) (string, error) {
	var lawsErr error
	if s.laws == nil {
		lawsErr = errors.New("laws endpoint not configured")
	} else {
		answer, err := s.laws.Ask(ctx, question)
		if err == nil {
			s.metrics.AICall(providerLaws, metrics.OutcomeOK)
			return answer, nil
		}
		s.metrics.AICall(providerLaws, metrics.OutcomeError)
		lawsErr = err
	}

	s.logger.Warn("Laws endpoint failed, falling back to general model", zap.Error(lawsErr))
	s.metrics.LawsFallback()

	answer, err := s.generate(ctx, strictLawsPrompt, question, lawsMaxTokens)
	if err == nil && answer == "" {
		err = errors.New("empty fallback answer")
	}
	if err != nil {
		s.metrics.AICall(providerGeneral, metrics.OutcomeError)
		s.logger.Error("Laws fallback failed", zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrLawsUnavailable, multierr.Combine(lawsErr, err))
	}
	s.metrics.AICall(providerGeneral, metrics.OutcomeOK)
	return answer, nil
}

// GenerateTitle summarizes the first question into a short title. It never
// fails: blank input or any provider problem yields DefaultTitle.
func (s *Service) GenerateTitle(ctx context.Context, firstMessage string) string {
	firstMessage = strings.TrimSpace(firstMessage)
	if firstMessage == "" {
		return DefaultTitle
	}

	title, err := s.generate(ctx, titlePrompt, firstMessage, titleMaxTokens)
	if err != nil {
		s.metrics.AICall(providerTitle, metrics.OutcomeError)
		s.logger.Warn("Failed to generate conversation title", zap.Error(err))
		return DefaultTitle
	}
	s.metrics.AICall(providerTitle, metrics.OutcomeOK)

	title = strings.TrimSpace(strings.Trim(title, "\"'“”"))
	if title == "" {
		return DefaultTitle
	}
	return truncate(title, MaxTitleLength)
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
