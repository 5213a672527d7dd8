package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// Ollama 本地服务默认地址
	defaultOllamaEndpoint = "http://localhost:11434"
)

func init() {
	RegisterClient("ollama", NewOllamaClient)
}

// OllamaClient 基于Ollama原生接口的客户端实现
type OllamaClient struct {
	baseURL     string       // 服务地址
	model       string       // 默认模型
	httpClient  *http.Client // HTTP客户端
	maxRetries  int          // 最大重试次数
	maxTokens   int          // 最大生成Token数
	temperature float32      // 温度参数
	topP        float32      // topP参数
}

// NewOllamaClient 创建新的Ollama客户端
func NewOllamaClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)

	if cfg.Model == "" {
		return nil, NewLLMError(ErrCodeInvalidRequest, "model cannot be empty")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaEndpoint
	}

	return &OllamaClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       cfg.Model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxRetries:  cfg.MaxRetries,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
	}, nil
}

// Name 返回默认模型名称
func (c *OllamaClient) Name() string {
	return c.model
}

// Generate 根据提示词生成回答
func (c *OllamaClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
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
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, options ...ChatOption) (*Response, error) {
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

	params := &OllamaOptions{TopK: opts.TopK}
	if opts.MaxTokens != nil {
		params.NumPredict = opts.MaxTokens
	} else if c.maxTokens > 0 {
		maxTokens := c.maxTokens
		params.NumPredict = &maxTokens
	}
	if opts.Temperature != nil {
		params.Temperature = opts.Temperature
	} else if c.temperature > 0 {
		temp := c.temperature
		params.Temperature = &temp
	}
	if opts.TopP != nil {
		params.TopP = opts.TopP
	} else if c.topP > 0 {
		topP := c.topP
		params.TopP = &topP
	}

	req := &OllamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  params,
	}
	if opts.JSONFormat {
		req.Format = "json"
	}

	body, err := c.do(ctx, http.MethodPost, "/api/chat", req)
	if err != nil {
		return nil, err
	}

	var chatResp OllamaChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, NewLLMError(ErrCodeServerError, fmt.Sprintf("failed to parse response: %v", err))
	}
	if chatResp.Error != "" {
		return nil, NewLLMError(ErrCodeServerError, chatResp.Error)
	}
	if strings.TrimSpace(chatResp.Message.Content) == "" {
		return nil, NewLLMError(ErrCodeEmptyResponse, ErrMsgEmptyResponse)
	}

	finish := chatResp.CreatedAt
	if finish.IsZero() {
		finish = time.Now()
	}
	if chatResp.Model != "" {
		model = chatResp.Model
	}

	return &Response{
		Text:       chatResp.Message.Content,
		Messages:   append(append([]Message{}, messages...), chatResp.Message),
		TokenCount: chatResp.PromptEvalCount + chatResp.EvalCount,
		ModelName:  model,
		FinishTime: finish,
	}, nil
}

// ListModels 列出本地已拉取的模型
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}

	var tags OllamaTagsResponse
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, NewLLMError(ErrCodeServerError, fmt.Sprintf("failed to parse model list: %v", err))
	}
	return tags.Models, nil
}

// do 发送请求，网络错误、429和5xx时按指数退避重试
// 每次尝试都重新构造请求体
func (c *OllamaClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var jsonData []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("failed to marshal request: %v", err))
		}
		jsonData = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		body, err := c.send(ctx, method, path, jsonData)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *OllamaClient) send(ctx context.Context, method, path string, jsonData []byte) ([]byte, error) {
	var reader io.Reader
	if jsonData != nil {
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if jsonData != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, NewLLMError(ErrCodeTimeout, fmt.Sprintf("request failed: %v", err))
		}
		return nil, NewLLMError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewLLMError(ErrCodeNetworkError, fmt.Sprintf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return nil, NewLLMError(codeForStatus(resp.StatusCode),
			fmt.Sprintf("API error (status %d): %s", resp.StatusCode, msg))
	}

	return body, nil
}
