package models

// Speaker 对话角色
type Speaker string

const (
	// SpeakerUser 提问方
	SpeakerUser Speaker = "user"
	// SpeakerAssistant 回答方
	SpeakerAssistant Speaker = "assistant"
)

// Turn 一轮发言
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// SynthesizedSample 由一个文本块生成的对话样本
type SynthesizedSample struct {
	ChunkIndex   int    `json:"chunk_index"`
	SampleIndex  int    `json:"sample_index"`
	SectionTitle string `json:"section_title,omitempty"`
	Model        string `json:"model,omitempty"`
	Turns        []Turn `json:"turns"`
	Valid        bool   `json:"valid"`
}

// GenerationDiagnostic 单个样本生成失败的记录
type GenerationDiagnostic struct {
	ChunkIndex  int       `json:"chunk_index"`
	SampleIndex int       `json:"sample_index"`
	Attempts    int       `json:"attempts"`
	Kind        ErrorKind `json:"kind"`
	Reason      string    `json:"reason"`
}
