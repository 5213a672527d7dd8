package document

import "strings"

// texSource 一段待处理的LaTeX文本及其预先计算的匹配表
// 所有位置都是s中的绝对下标，处理嵌套分组时不再重复扫描
type texSource struct {
	s       string
	match   []int32              // 每个 { 和 [ 对应的闭合位置，没有则为-1
	envs    map[int]envSpan      // \begin 的位置到对应 \end 的位置
	cursors map[string]tokenSeek // 记号的最近一次查找结果
}

// envSpan 环境正文结束位置和 \end{name} 之后的位置
type envSpan struct {
	end   int
	after int
}

// tokenSeek 从from开始查找记号得到的第一个位置，at为-1表示之后不再出现
type tokenSeek struct {
	from int
	at   int
}

// texSpan 半开区间 [from, to)
type texSpan struct {
	from int
	to   int
}

// maxEnvNameLen 环境名的最大长度，超出视为格式错误
const maxEnvNameLen = 64

func newTexSource(s string) *texSource {
	t := &texSource{s: s, match: make([]int32, len(s))}
	for i := range t.match {
		t.match[i] = -1
	}

	var braces []int
	// 每一层分组内尚未闭合的 [
	brackets := [][]int{nil}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '{':
			braces = append(braces, i)
			brackets = append(brackets, nil)
		case '}':
			if len(braces) == 0 {
				// 多余的闭括号，可选参数不能跨过它
				brackets[0] = brackets[0][:0]
				continue
			}
			open := braces[len(braces)-1]
			braces = braces[:len(braces)-1]
			t.match[open] = int32(i)
			brackets = brackets[:len(brackets)-1]
		case '[':
			level := len(brackets) - 1
			brackets[level] = append(brackets[level], i)
		case ']':
			level := len(brackets) - 1
			for _, open := range brackets[level] {
				t.match[open] = int32(i)
			}
			brackets[level] = brackets[level][:0]
		}
	}

	t.envs = matchEnvironments(s)
	return t
}

// matchEnvironments 一次扫描为同名的 \begin 和 \end 配对
func matchEnvironments(s string) map[int]envSpan {
	const beginTok, endTok = `\begin{`, `\end{`

	envs := make(map[int]envSpan)
	open := make(map[string][]int)
	nextBegin := indexFrom(s, beginTok, 0)
	nextEnd := indexFrom(s, endTok, 0)
	// 之后再没有 } 时为len(s)
	nextClose := -1

	for nextBegin >= 0 || nextEnd >= 0 {
		pos, tok := nextBegin, beginTok
		if nextBegin < 0 || (nextEnd >= 0 && nextEnd < nextBegin) {
			pos, tok = nextEnd, endTok
		}
		start := pos + len(tok)

		if nextClose < start {
			if nextClose = indexFrom(s, "}", start); nextClose < 0 {
				nextClose = len(s)
			}
		}
		if nextClose < len(s) && nextClose-start <= maxEnvNameLen {
			name := strings.TrimSpace(s[start:nextClose])
			if tok == beginTok {
				open[name] = append(open[name], pos)
			} else if stack := open[name]; len(stack) > 0 {
				envs[stack[len(stack)-1]] = envSpan{end: pos, after: nextClose + 1}
				open[name] = stack[:len(stack)-1]
			}
		}

		if tok == beginTok {
			nextBegin = indexFrom(s, beginTok, start)
		} else {
			nextEnd = indexFrom(s, endTok, start)
		}
	}
	return envs
}

func indexFrom(s, tok string, from int) int {
	if from > len(s) {
		return -1
	}
	at := strings.Index(s[from:], tok)
	if at < 0 {
		return -1
	}
	return from + at
}

func (t *texSource) text(sp texSpan) string {
	return t.s[sp.from:sp.to]
}

// closing 返回src[open]处 { 或 [ 的闭合位置
func (t *texSource) closing(open int) int {
	return int(t.match[open])
}

// index 返回from之后tok第一次出现的位置
// 处理过程基本单调向前，缓存上次的结果使未闭合记号不会被反复查找
func (t *texSource) index(tok string, from int) int {
	if c, ok := t.cursors[tok]; ok && c.from <= from && (c.at < 0 || c.at >= from) {
		return c.at
	}
	at := indexFrom(t.s, tok, from)
	if t.cursors == nil {
		t.cursors = make(map[string]tokenSeek)
	}
	t.cursors[tok] = tokenSeek{from: from, at: at}
	return at
}

// indexUnescaped 返回from之后第一个未转义的tok
func (t *texSource) indexUnescaped(tok string, from int) int {
	for at := t.index(tok, from); at >= 0; at = t.index(tok, at+1) {
		if !escaped(t.s, at) {
			return at
		}
	}
	return -1
}

func escaped(s string, at int) bool {
	backslashes := 0
	for k := at - 1; k >= 0 && s[k] == '\\'; k-- {
		backslashes++
	}
	return backslashes%2 == 1
}
