package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	// RoleSystem 系统角色
	RoleSystem MessageRole = "system"
	// RoleUser 用户角色
	RoleUser MessageRole = "user"
	// RoleAssistant 助手角色
	RoleAssistant MessageRole = "assistant"
	// RoleTool 工具角色
	RoleTool MessageRole = "tool"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`           // 角色
	Content string      `json:"content"`        // 内容
	Name    string      `json:"name,omitempty"` // 可选名称标识
}

// Response 统一的响应结构
type Response struct {
	Text       string    // 生成的文本
	Messages   []Message // 消息列表（如果是对话）
	TokenCount int       // 使用的token数
	ModelName  string    // 使用的模型名称
	FinishTime time.Time // 完成时间
}

// ModelInfo 服务端可用模型
type ModelInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// OllamaChatRequest Ollama /api/chat 请求结构
type OllamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  *OllamaOptions `json:"options,omitempty"`
}

// OllamaOptions 采样参数
type OllamaOptions struct {
	Temperature *float32 `json:"temperature,omitempty"` // 采样温度
	TopP        *float32 `json:"top_p,omitempty"`       // 核采样概率阈值
	TopK        *int     `json:"top_k,omitempty"`       // 生成候选集大小
	NumPredict  *int     `json:"num_predict,omitempty"` // 最大生成Token数
}

// OllamaChatResponse Ollama /api/chat 响应结构
type OllamaChatResponse struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Message         Message   `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
	Error           string    `json:"error,omitempty"`
}

// OllamaTagsResponse Ollama /api/tags 响应结构
type OllamaTagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// Model 常用模型名称
const (
	ModelLlama32   = "llama3.2"    // Meta Llama 3.2
	ModelQwen25    = "qwen2.5"     // 通义千问2.5开源版
	ModelMistral   = "mistral"     // Mistral 7B
	ModelDeepSeek  = "deepseek-r1" // DeepSeek R1 蒸馏模型
	ModelGPT4oMini = "gpt-4o-mini" // OpenAI兼容接口默认模型
)
