package synth

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/models"
)

// ResponseParser 把模型输出解析为对话轮次
// 返回false表示该解析器不适用于这段文本
type ResponseParser interface {
	Name() string
	Parse(text string) ([]models.Turn, bool)
}

// DefaultParsers 默认依次尝试的解析器
func DefaultParsers() []ResponseParser {
	return []ResponseParser{&JSONTurnParser{}, &DelimitedTurnParser{}}
}

// ParseTurns 清理输出后按顺序尝试各解析器
func ParseTurns(parsers []ResponseParser, text string) ([]models.Turn, error) {
	cleaned := cleanResponse(text)
	if cleaned == "" {
		return nil, models.NewError(models.KindMalformedGeneration, "empty response", nil)
	}
	for _, p := range parsers {
		if turns, ok := p.Parse(cleaned); ok && len(turns) > 0 {
			return turns, nil
		}
	}
	return nil, models.NewError(models.KindMalformedGeneration, "no dialogue turns found in response", nil)
}

var (
	thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?m)^\\s*```[a-zA-Z0-9_-]*\\s*$")
)

// cleanResponse 去掉推理模型的思考过程和代码块标记
func cleanResponse(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	// 只有结束标签时丢弃之前的全部内容
	if i := strings.LastIndex(strings.ToLower(text), "</think>"); i >= 0 {
		text = text[i+len("</think>"):]
	}
	text = codeFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

var (
	userSpeakers = map[string]bool{
		"human": true, "user": true, "q": true, "question": true,
		"student": true, "prompt": true, "instruction": true,
	}
	assistantSpeakers = map[string]bool{
		"assistant": true, "ai": true, "gpt": true, "a": true, "answer": true,
		"bot": true, "model": true, "response": true, "chatgpt": true,
	}
)

// normalizeSpeaker 统一为 user / assistant，无法识别时返回空
func normalizeSpeaker(s string) models.Speaker {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case userSpeakers[s]:
		return models.SpeakerUser
	case assistantSpeakers[s]:
		return models.SpeakerAssistant
	default:
		return ""
	}
}

// JSONTurnParser 解析JSON形式的对话
// 支持数组，或带 conversations / messages / turns 字段的对象
type JSONTurnParser struct{}

// Name 解析器名称
func (p *JSONTurnParser) Name() string { return "json" }

// Parse 先按原文解析，失败后修复常见格式问题再试一次
func (p *JSONTurnParser) Parse(text string) ([]models.Turn, bool) {
	fragment, ok := jsonFragment(text)
	if !ok {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(fragment), &v); err != nil {
		if err := json.Unmarshal([]byte(repairJSON(fragment)), &v); err != nil {
			return nil, false
		}
	}
	return turnsFromValue(v)
}

// jsonFragment 截取第一个左括号到最后一个右括号之间的文本
func jsonFragment(text string) (string, bool) {
	start := strings.IndexAny(text, "[{")
	end := strings.LastIndexAny(text, "]}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

var conversationKeys = []string{"conversations", "conversation", "messages", "turns", "dialogue", "dialog"}

func turnsFromValue(v any) ([]models.Turn, bool) {
	switch t := v.(type) {
	case []any:
		return turnsFromList(t)
	case map[string]any:
		for _, k := range conversationKeys {
			if list, ok := t[k].([]any); ok {
				return turnsFromList(list)
			}
		}
	}
	return nil, false
}

func turnsFromList(list []any) ([]models.Turn, bool) {
	turns := make([]models.Turn, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		role := firstString(m, "from", "role", "speaker")
		if strings.EqualFold(role, "system") {
			continue
		}
		speaker := normalizeSpeaker(role)
		if speaker == "" {
			return nil, false
		}
		turns = append(turns, models.Turn{
			Speaker: speaker,
			Text:    strings.TrimSpace(firstString(m, "value", "content", "text")),
		})
	}
	return turns, len(turns) > 0
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			return s
		}
	}
	return ""
}

// repairJSON 修复单引号字符串、未加引号的键、结尾多余的逗号和字符串中的原始换行
func repairJSON(s string) string {
	var (
		b        strings.Builder
		inString bool
		quote    byte
	)
	b.Grow(len(s) + 16)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case c == '\\' && i+1 < len(s):
				if quote == '\'' && s[i+1] == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte(c)
					b.WriteByte(s[i+1])
				}
				i++
			case c == quote:
				b.WriteByte('"')
				inString = false
			case c == '"':
				b.WriteString(`\"`)
			case c == '\n':
				b.WriteString(`\n`)
			case c == '\r':
			case c == '\t':
				b.WriteString(`\t`)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch {
		case c == '"' || c == '\'':
			inString = true
			quote = c
			b.WriteByte('"')
		case c == ',':
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == '}') {
				continue
			}
			b.WriteByte(c)
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			word := s[i:j]
			k := j
			for k < len(s) && isJSONSpace(s[k]) {
				k++
			}
			switch {
			case k < len(s) && s[k] == ':':
				b.WriteString(`"` + word + `"`)
			case word == "True":
				b.WriteString("true")
			case word == "False":
				b.WriteString("false")
			case word == "None":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// DelimitedTurnParser 解析 "Human: ... / Assistant: ..." 形式的对话
// 容忍加粗、标题和引用标记，未带标签的行并入上一轮
type DelimitedTurnParser struct{}

var speakerLabel = regexp.MustCompile(`(?i)^\s*(?:[#>*\-]+\s*)?(?:\*\*|__)?\s*(human|user|q|question|assistant|ai|gpt|a|answer|bot|model)\s*(?:\*\*|__)?\s*[:：]\s*(?:\*\*|__)?\s*(.*)$`)

// Name 解析器名称
func (p *DelimitedTurnParser) Name() string { return "delimited" }

// Parse 逐行扫描说话人标签
func (p *DelimitedTurnParser) Parse(text string) ([]models.Turn, bool) {
	var (
		turns []models.Turn
		cur   *strings.Builder
	)
	flush := func(speaker models.Speaker) {
		if cur != nil {
			turns[len(turns)-1].Text = strings.TrimSpace(cur.String())
		}
		if speaker != "" {
			turns = append(turns, models.Turn{Speaker: speaker})
			cur = &strings.Builder{}
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if m := speakerLabel.FindStringSubmatch(line); m != nil {
			flush(normalizeSpeaker(m[1]))
			cur.WriteString(strings.TrimSpace(m[2]))
			continue
		}
		if cur == nil {
			continue
		}
		if strings.TrimSpace(line) == "" {
			if cur.Len() > 0 {
				cur.WriteString("\n")
			}
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(strings.TrimSpace(line))
	}
	flush("")

	return turns, len(turns) > 0
}
