package synth

import (
	"fmt"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/llm"
	"github.com/fyerfyer/paper-dataset/internal/models"
)

// DefaultSystemPrompt 默认系统提示词
const DefaultSystemPrompt = `You are an assistant helping to create synthetic training data from research papers.
Generate a realistic conversation between a human and an AI assistant about the research content provided by the user.

The conversation should:
1. Include 3-5 exchanges, starting with a question from the human.
2. Stay grounded in the provided content; do not invent results.
3. Show the human asking questions about the research and the AI giving helpful, specific answers.
4. Be formatted as a JSON array of objects with "from" (either "human" or "gpt") and "value" fields.

Return ONLY the JSON array without explanations or markdown formatting.`

// DefaultUserTemplate 默认用户提示词模板
// 包含变量：
// {{.Title}} - 论文标题
// {{.Section}} - 所属小节
// {{.Content}} - 文本块内容
// {{.Variation}} - 多样性提示
const DefaultUserTemplate = `Paper: {{.Title}}
Section: {{.Section}}

Content:
{{.Content}}

{{.Variation}}`

// 同一块生成多个样本时轮换的提问角度
var variationHints = []string{
	"Focus the questions on the main idea and motivation.",
	"Focus the questions on the method and how it works.",
	"Focus the questions on results, evidence and limitations.",
	"Ask the kind of questions a skeptical reviewer would ask.",
	"Ask the kind of questions a newcomer to the field would ask.",
	"Focus on definitions and the terminology used.",
}

// promptInput 一次生成请求的输入
type promptInput struct {
	Title       string
	Chunk       models.Chunk
	SampleIndex int
	SampleCount int
	// 上一次失败的原因，首次请求为空
	PreviousFailure string
}

// buildMessages 构建系统和用户消息
func buildMessages(systemPrompt, userTemplate string, in promptInput) []llm.Message {
	title := in.Title
	if title == "" {
		title = "(untitled)"
	}
	section := in.Chunk.SectionTitle
	if section == "" {
		section = "(none)"
	}

	variation := variationHints[in.SampleIndex%len(variationHints)]
	if in.SampleCount > 1 {
		variation = fmt.Sprintf("This is conversation %d of %d for this passage. %s", in.SampleIndex+1, in.SampleCount, variation)
	}

	user := userTemplate
	user = strings.ReplaceAll(user, "{{.Title}}", title)
	user = strings.ReplaceAll(user, "{{.Section}}", section)
	user = strings.ReplaceAll(user, "{{.Content}}", in.Chunk.Text)
	user = strings.ReplaceAll(user, "{{.Variation}}", variation)

	if in.PreviousFailure != "" {
		user += "\n\nYour previous answer could not be used (" + in.PreviousFailure +
			"). Reply with a JSON array of alternating human and gpt turns only."
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: user},
	}
}
