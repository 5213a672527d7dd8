package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// OpenAI兼容接口默认地址
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
)

func init() {
	RegisterClient("openai", NewOpenAIClient)
}

// OpenAIClient OpenAI兼容接口客户端，适用于vLLM、LM Studio等服务
type OpenAIClient struct {
	llm         *openai.LLM
	model       string
	maxRetries  int
	maxTokens   int
	temperature float32
	topP        float32
}

// NewOpenAIClient 创建新的OpenAI兼容客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.Model == "" {
		return nil, NewLLMError(ErrCodeInvalidRequest, "model cannot be empty")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIEndpoint
	}
	// 本地兼容服务通常不校验密钥
	token := strings.TrimPrefix(cfg.APIKey, "Bearer ")
	if token == "" {
		token = "none"
	}

	llm, err := openai.New(
		openai.WithBaseURL(strings.TrimRight(baseURL, "/")),
		openai.WithToken(token),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	)
	if err != nil {
		return nil, WrapError(err, ErrCodeInvalidRequest)
	}

	return &OpenAIClient{
		llm:         llm,
		model:       cfg.Model,
		maxRetries:  cfg.MaxRetries,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}, nil
}

// Name 返回默认模型名称
func (c *OpenAIClient) Name() string {
	return c.model
}

// Generate 根据提示词生成回答
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}

	opts := &GenerateOptions{}
	for _, opt := range options {
		opt(opts)
	}

	return c.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts.toChatOptions()...)
}

// Chat 进行多轮对话
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, options ...ChatOption) (*Response, error) {
	if len(messages) == 0 {
		return nil, NewLLMError(ErrCodeInvalidRequest, "messages cannot be empty")
	}

	opts := &ChatOptions{}
	for _, opt := range options {
		opt(opts)
	}

	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{llms.WithModel(model)}
	if opts.MaxTokens != nil {
		callOpts = append(callOpts, llms.WithMaxTokens(*opts.MaxTokens))
	} else if c.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.maxTokens))
	}
	if opts.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(float64(*opts.Temperature)))
	} else if c.temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(float64(c.temperature)))
	}
	if opts.TopP != nil {
		callOpts = append(callOpts, llms.WithTopP(float64(*opts.TopP)))
	} else if c.topP > 0 {
		callOpts = append(callOpts, llms.WithTopP(float64(c.topP)))
	}
	if opts.TopK != nil {
		callOpts = append(callOpts, llms.WithTopK(*opts.TopK))
	}
	if opts.JSONFormat {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	var (
		resp    *llms.ContentResponse
		lastErr error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}
		r, err := c.llm.GenerateContent(ctx, content, callOpts...)
		if err == nil {
			resp = r
			break
		}
		lastErr = classifyOpenAIError(err)
		if !IsRetryable(lastErr) || ctx.Err() != nil {
			return nil, lastErr
		}
	}
	if resp == nil {
		return nil, lastErr
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, NewLLMError(ErrCodeEmptyResponse, ErrMsgEmptyResponse)
	}
	choice := resp.Choices[0]

	tokens := 0
	if v, ok := choice.GenerationInfo["TotalTokens"].(int); ok {
		tokens = v
	}

	return &Response{
		Text:       choice.Content,
		Messages:   append(append([]Message{}, messages...), Message{Role: RoleAssistant, Content: choice.Content}),
		TokenCount: tokens,
		ModelName:  model,
		FinishTime: time.Now(),
	}, nil
}

func messageType(role MessageRole) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	case RoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

// classifyOpenAIError 根据错误信息中的状态码归类
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewLLMError(ErrCodeTimeout, err.Error())
	}
	msg := err.Error()
	for _, status := range []int{401, 403, 404, 408, 429, 500, 502, 503, 504} {
		if strings.Contains(msg, fmt.Sprintf("status code: %d", status)) {
			return NewLLMError(codeForStatus(status), msg)
		}
	}
	return NewLLMError(ErrCodeNetworkError, msg)
}
