package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/sqlscope/sqlscope/pkg/config"
	"github.com/sqlscope/sqlscope/pkg/domain"
)

// Generator produces assistant answers with embedded SQL from conversation
// history using an OpenAI-compatible chat completion API
type Generator struct {
	client *openai.Client
	config config.LLMConfig
}

// sqlFenceRegex captures the body of the first ```sql fenced block
var sqlFenceRegex = regexp.MustCompile("(?s)```sql\n(.*?)\n```")

// NewGenerator creates a new SQL generator
func NewGenerator(cfg config.LLMConfig) *Generator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}

	return &Generator{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

// Response is the result of one completion: the full answer text, the
// extracted SQL (empty for purely conversational answers) and token usage
type Response struct {
	Text    string
	SQL     string
	Usage   domain.Usage
	Elapsed time.Duration
}

// Generate sends the conversation to the model and extracts the SQL query
// from the answer. The history must start with the system prompt.
func (g *Generator) Generate(ctx context.Context, history []domain.Message) (*Response, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("empty conversation history")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Temperature: float32(g.config.Temperature),
		MaxTokens:   g.config.MaxTokens,
		Messages:    messages,
	}

	reqCtx := ctx
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := g.client.CreateChatCompletion(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from llm")
	}

	content := resp.Choices[0].Message.Content
	return &Response{
		Text: content,
		SQL:  ExtractSQL(content),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
		Elapsed: time.Since(started),
	}, nil
}

// ExtractSQL pulls the query out of the first sql fenced block, empty string
// when the answer has no query
func ExtractSQL(answer string) string {
	m := sqlFenceRegex.FindStringSubmatch(answer)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
