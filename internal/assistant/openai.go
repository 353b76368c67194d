package assistant

import (
	"context"
	"fmt"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ashureev/folio-chat/internal/domain"
)

// maxPromptHistory is the number of prior turns sent to the model.
const maxPromptHistory = 10

// OpenAIConfig configures an OpenAIProcessor.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int64
}

// OpenAIProcessor streams answers from the Chat Completions API.
type OpenAIProcessor struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProcessor returns a processor for cfg. Extra request options are
// appended after the key and base URL.
func NewOpenAIProcessor(cfg OpenAIConfig, opts ...option.RequestOption) *OpenAIProcessor {
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}
	client := openai.NewClient(append(base, opts...)...)
	return &OpenAIProcessor{client: &client, cfg: cfg}
}

func (p *OpenAIProcessor) Name() string {
	return fmt.Sprintf("OpenAI (%s)", p.cfg.Model)
}

func (p *OpenAIProcessor) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*ChatResponse, error] {
	return func(yield func(*ChatResponse, error) bool) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(&ChatResponse{Response: chunk.Choices[0].Delta.Content}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("openai streaming error: %w", err))
		}
	}
}

func (p *OpenAIProcessor) params(req ChatRequest) openai.ChatCompletionNewParams {
	history := req.History
	if len(history) > maxPromptHistory {
		history = history[len(history)-maxPromptHistory:]
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(p.cfg.SystemPrompt))
	for _, m := range history {
		switch m.Role {
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: messages,
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = openai.Float(p.cfg.Temperature)
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(p.cfg.MaxTokens)
	}
	return params
}
