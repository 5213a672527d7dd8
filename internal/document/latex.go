package document

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
)

// LatexParser LaTeX源文件解析器
// 将LaTeX标记规范化为按小节组织的纯文本
type LatexParser struct {
	logger       *logrus.Logger
	expandMacros bool
}

// NewLatexParser 创建LaTeX解析器
func NewLatexParser(opts ...ParserOption) Parser {
	o := buildParserOptions(opts)
	return &LatexParser{
		logger:       o.logger,
		expandMacros: o.expandMacros,
	}
}

// Parse 解析LaTeX文件
func (p *LatexParser) Parse(filePath string) (*models.NormalizedDocument, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open latex file: %w", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析LaTeX内容
func (p *LatexParser) ParseReader(r io.Reader, filename string) (*models.NormalizedDocument, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read latex content: %w", err)
	}
	src := string(content)

	doc := p.normalize(src, p.expandMacros)
	// 宏展开可能让正文变长，此时退回到不展开的结果
	if p.expandMacros && doc.TextLength() > len(src) {
		p.logger.WithField("file", filename).Warn("Macro expansion enlarged the document, normalizing without expansion")
		doc = p.normalize(src, false)
	}

	return finishDocument(doc, filename)
}

func (p *LatexParser) normalize(src string, expand bool) *models.NormalizedDocument {
	src = stripLatexComments(src)

	preamble, body := "", src
	if idx := strings.Index(src, `\begin{document}`); idx >= 0 {
		preamble = src[:idx]
		body = src[idx+len(`\begin{document}`):]
		if end := strings.Index(body, `\end{document}`); end >= 0 {
			body = body[:end]
		}
	}

	proc := &latexProcessor{
		logger:  p.logger,
		expand:  expand,
		macros:  make(map[string]latexMacro),
		warned:  make(map[string]bool),
		builder: &sectionBuilder{},
	}

	// 导言区只收集宏定义和标题
	var discard strings.Builder
	proc.process(newTexSource(preamble), texSpan{0, len(preamble)}, &discard, false, 0)
	proc.process(newTexSource(body), texSpan{0, len(body)}, &proc.builder.body, true, 0)

	return proc.builder.build(proc.title)
}

// latexMacro 用户定义的宏
type latexMacro struct {
	args int
	body string
}

type latexProcessor struct {
	logger  *logrus.Logger
	expand  bool
	macros  map[string]latexMacro
	warned  map[string]bool
	builder *sectionBuilder
	title   string
	nesting int
}

const (
	// maxLatexNesting 命令参数和环境的最大嵌套层数，更深的内容丢弃
	maxLatexNesting = 256
	// maxDefParamText \def 参数文本的最大长度
	maxDefParamText = 32
)

var (
	// 开启新小节的命令
	sectionCommands = map[string]bool{
		"part": true, "chapter": true, "section": true, "subsection": true, "subsubsection": true,
	}

	// 行内小标题
	runInHeadings = map[string]bool{
		"paragraph": true, "subparagraph": true,
	}

	// 保留参数文本的格式命令
	payloadCommands = map[string]bool{
		"textbf": true, "textit": true, "emph": true, "texttt": true, "textsc": true, "textrm": true,
		"textsf": true, "textup": true, "textmd": true, "textnormal": true, "underline": true,
		"mbox": true, "fbox": true, "hbox": true, "text": true, "textsuperscript": true,
		"textsubscript": true, "footnote": true, "uline": true, "sout": true, "enquote": true,
		"mathrm": true, "mathbf": true, "textsl": true, "ensuremath": true,
	}

	// 连同参数一起丢弃的命令，值为必选参数个数
	droppedCommands = map[string]int{
		"cite": 1, "citep": 1, "citet": 1, "citealp": 1, "citeauthor": 1, "citeyear": 1, "nocite": 1,
		"ref": 1, "eqref": 1, "autoref": 1, "cref": 1, "Cref": 1, "pageref": 1, "label": 1,
		"includegraphics": 1, "bibliography": 1, "bibliographystyle": 1, "usepackage": 1,
		"documentclass": 1, "author": 1, "date": 1, "thanks": 1, "affiliation": 1, "email": 1,
		"institute": 1, "address": 1, "vspace": 1, "hspace": 1, "pagestyle": 1, "thispagestyle": 1,
		"input": 1, "include": 1, "graphicspath": 1, "keywords": 1, "hypersetup": 1, "color": 1,
		"setlength": 2, "addtolength": 2, "setcounter": 2, "addtocounter": 2, "newtheorem": 2,
		"definecolor": 3, "icmltitle": 1, "icmlauthor": 2, "icmlaffiliation": 2,
		"icmlcorrespondingauthor": 2, "icmlkeywords": 1, "newenvironment": 3, "renewenvironment": 3,
	}

	// 直接替换为文本的无参命令
	replacedCommands = map[string]string{
		"par": "\n\n", "newline": "\n", "linebreak": "\n", "ldots": "...", "dots": "...",
		"LaTeX": "LaTeX", "TeX": "TeX", "quad": " ", "qquad": " ",
		"maketitle": "", "tableofcontents": "", "newpage": "", "clearpage": "", "centering": "",
		"noindent": "", "small": "", "large": "", "Large": "", "LARGE": "", "huge": "", "Huge": "",
		"footnotesize": "", "normalsize": "", "scriptsize": "", "tiny": "", "bfseries": "",
		"itshape": "", "ttfamily": "", "rmfamily": "", "sffamily": "", "scshape": "", "em": "",
		"bf": "", "it": "", "tt": "", "medskip": "", "bigskip": "", "smallskip": "", "hline": "",
		"toprule": "", "midrule": "", "bottomrule": "", "appendix": "", "and": "", "today": "",
		"hfill": "", "vfill": "", "protect": "", "relax": "", "indent": "", "sloppy": "",
	}

	// 整体丢弃的非文本环境
	droppedEnvironments = map[string]bool{
		"figure": true, "table": true, "tabular": true, "tabularx": true, "thebibliography": true,
		"equation": true, "align": true, "eqnarray": true, "gather": true, "multline": true,
		"displaymath": true, "math": true, "algorithm": true, "algorithmic": true,
		"lstlisting": true, "verbatim": true, "minted": true, "tikzpicture": true,
		"wrapfigure": true, "subfigure": true, "comment": true, "longtable": true, "split": true,
	}

	// 环境开头需要跳过的必选参数个数
	environmentArgs = map[string]int{
		"minipage": 1, "multicols": 1,
	}

	// 数学模式中不输出名字的命令
	mathSilent = map[string]bool{
		"left": true, "right": true, "big": true, "Big": true, "bigg": true, "Bigg": true,
		"displaystyle": true, "textstyle": true, "mathrm": true, "mathbf": true, "mathit": true,
		"mathcal": true, "mathbb": true, "mathsf": true, "text": true, "operatorname": true,
		"boldsymbol": true, "quad": true, "qquad": true, "nonumber": true,
	}
)

// process 处理一段LaTeX文本，结果写入sb
// top为true时小节命令会开启新小节
// 普通分组原地展开，只记录尚未结束的闭括号位置
func (p *latexProcessor) process(t *texSource, span texSpan, sb *strings.Builder, top bool, depth int) {
	if p.nesting >= maxLatexNesting {
		if !p.warned["{nesting}"] {
			p.warned["{nesting}"] = true
			p.logger.WithField("limit", maxLatexNesting).Warn("LaTeX nesting too deep, dropping nested content")
		}
		return
	}
	p.nesting++
	defer func() { p.nesting-- }()

	src := t.s
	var groups []int
	limit := span.to
	i := span.from
	for i < span.to {
		if len(groups) > 0 && i >= limit {
			groups = groups[:len(groups)-1]
			limit = span.to
			if len(groups) > 0 {
				limit = groups[len(groups)-1]
			}
			i++
			continue
		}

		c := src[i]
		switch c {
		case '\\':
			i = p.command(t, i, limit, sb, top, depth)
		case '{':
			end := t.closing(i)
			if end < 0 || end >= limit {
				// 未闭合的分组，忽略开括号
				i++
				continue
			}
			groups = append(groups, end)
			limit = end
			i++
		case '}':
			// 多余的闭括号按普通字符处理
			sb.WriteByte('}')
			i++
		case '$':
			i = p.inlineMath(t, i, limit, sb)
		case '~', '&':
			sb.WriteByte(' ')
			i++
		case '#':
			i++
		case '`':
			if strings.HasPrefix(src[i:limit], "``") {
				sb.WriteByte('"')
				i += 2
			} else {
				sb.WriteByte('\'')
				i++
			}
		case '\'':
			if strings.HasPrefix(src[i:limit], "''") {
				sb.WriteByte('"')
				i += 2
			} else {
				sb.WriteByte(c)
				i++
			}
		default:
			sb.WriteByte(c)
			i++
		}
	}
}

// command 处理从src[i]开始的控制序列，返回处理后的位置
func (p *latexProcessor) command(t *texSource, i, limit int, sb *strings.Builder, top bool, depth int) int {
	src := t.s
	j := i + 1
	if j >= limit {
		return limit
	}
	if !isLetter(src[j]) {
		return p.controlSymbol(t, i, limit, sb)
	}
	for j < limit && isLetter(src[j]) {
		j++
	}
	name := src[i+1 : j]
	if j < limit && src[j] == '*' {
		j++
	}

	// 用户宏优先，只展开一层
	if m, ok := p.macros[name]; ok {
		if !p.expand || depth > 0 {
			return j
		}
		return p.expandMacro(m, t, j, limit, sb, top, depth)
	}

	switch {
	case name == "begin":
		return p.environment(t, i, j, limit, sb, top, depth)
	case name == "end":
		_, k, _ := readGroup(t, j, limit)
		return k
	case sectionCommands[name]:
		_, k, _ := readOptional(t, j, limit)
		arg, k, ok := readGroup(t, k, limit)
		if !ok {
			return j
		}
		title := p.render(t, arg, depth)
		if top {
			p.builder.open(title)
		} else {
			sb.WriteString(title)
			sb.WriteByte(' ')
		}
		return k
	case runInHeadings[name]:
		arg, k, ok := readGroup(t, j, limit)
		if !ok {
			return j
		}
		sb.WriteString("\n\n")
		sb.WriteString(p.render(t, arg, depth))
		sb.WriteByte(' ')
		return k
	case name == "title":
		_, k, _ := readOptional(t, j, limit)
		arg, k, ok := readGroup(t, k, limit)
		if !ok {
			return j
		}
		p.title = p.render(t, arg, depth)
		return k
	case name == "item":
		sb.WriteString("\n\n- ")
		label, k, ok := readOptional(t, j, limit)
		if ok {
			if text := p.render(t, label, depth); text != "" {
				sb.WriteString(text)
				sb.WriteByte(' ')
			}
		}
		return k
	case payloadCommands[name]:
		arg, k, ok := readGroup(t, j, limit)
		if !ok {
			return j
		}
		p.process(t, arg, sb, false, depth)
		return k
	case name == "href" || name == "textcolor" || name == "colorbox":
		_, k, ok := readGroup(t, j, limit)
		if !ok {
			return j
		}
		arg, k, ok := readGroup(t, k, limit)
		if !ok {
			return k
		}
		p.process(t, arg, sb, false, depth)
		return k
	case name == "url" || name == "nolinkurl":
		arg, k, ok := readGroup(t, j, limit)
		if !ok {
			return j
		}
		sb.WriteString(strings.ReplaceAll(t.text(arg), `\`, ""))
		return k
	case name == "verb":
		return verbatimInline(t, j, limit, sb)
	case name == "newcommand" || name == "renewcommand" || name == "providecommand" || name == "DeclareMathOperator":
		return p.defineCommand(t, j, limit)
	case name == "def" || name == "gdef" || name == "edef":
		return p.defineDef(t, j, limit)
	}

	if n, ok := droppedCommands[name]; ok {
		k := j
		for {
			_, next, ok := readOptional(t, k, limit)
			if !ok {
				break
			}
			k = next
		}
		for a := 0; a < n; a++ {
			_, next, ok := readGroup(t, k, limit)
			if !ok {
				break
			}
			k = next
		}
		return k
	}

	if text, ok := replacedCommands[name]; ok {
		sb.WriteString(text)
		return j
	}

	// 未定义的宏：忽略命令名，参数按普通分组处理
	if !p.warned[name] {
		p.warned[name] = true
		p.logger.WithField("macro", name).Warn("Undefined LaTeX macro ignored")
	}
	return j
}

// controlSymbol 处理反斜杠加单个非字母字符
func (p *latexProcessor) controlSymbol(t *texSource, i, limit int, sb *strings.Builder) int {
	src := t.s
	c := src[i+1]
	switch c {
	case '\\':
		sb.WriteByte('\n')
		_, k, _ := readOptional(t, i+2, limit)
		return k
	case '%', '&', '$', '#', '_', '{', '}':
		sb.WriteByte(c)
		return i + 2
	case ' ', ',', ';', ':', '>':
		sb.WriteByte(' ')
		return i + 2
	case '!', '/', '-':
		return i + 2
	case '[':
		// 行间公式丢弃
		end := t.index(`\]`, i+2)
		if end < 0 || end+2 > limit {
			return i + 2
		}
		return end + 2
	case '(':
		end := t.index(`\)`, i+2)
		if end < 0 || end+2 > limit {
			return i + 2
		}
		sb.WriteString(mathText(src[i+2 : end]))
		return end + 2
	case '\'', '`', '"', '^', '~', '=', '.':
		// 重音符号只保留字母
		k := i + 2
		if k < limit && src[k] == '{' {
			end := t.closing(k)
			if end < 0 || end >= limit {
				return k + 1
			}
			for _, r := range src[k+1 : end] {
				if r != '\\' {
					sb.WriteRune(r)
				}
			}
			return end + 1
		}
		if k < limit && isLetter(src[k]) {
			sb.WriteByte(src[k])
			return k + 1
		}
		return k
	default:
		// 丢弃反斜杠，后续字符照常处理
		return i + 1
	}
}

// environment 处理 \begin{name} ... \end{name}，i为 \begin 的位置
func (p *latexProcessor) environment(t *texSource, i, j, limit int, sb *strings.Builder, top bool, depth int) int {
	arg, k, ok := readGroup(t, j, limit)
	if !ok {
		return j
	}
	name := strings.TrimSpace(t.text(arg))
	base := strings.TrimSuffix(name, "*")

	env, ok := t.envs[i]
	if !ok || env.after > limit {
		return p.unclosedEnvironment(t, name, k, limit, sb, top)
	}
	body := texSpan{k, env.end}

	switch {
	case droppedEnvironments[base]:
		sb.WriteByte('\n')
	case name == "abstract":
		if top {
			p.builder.open("Abstract")
			p.process(t, body, &p.builder.body, true, depth)
			p.builder.open("")
		} else {
			p.process(t, body, sb, false, depth)
		}
	case base == "itemize" || base == "enumerate" || base == "description":
		_, start, _ := readOptional(t, body.from, body.to)
		p.process(t, texSpan{start, body.to}, sb, top, depth)
		sb.WriteString("\n\n")
	case name == "document":
		p.process(t, body, sb, top, depth)
	default:
		start := skipEnvironmentArgs(t, base, body.from, body.to)
		p.process(t, texSpan{start, body.to}, sb, top, depth)
		sb.WriteString("\n\n")
	}
	return env.after
}

// unclosedEnvironment 处理没有 \end 的环境
// 丢弃型环境只丢到下一个空行或小节命令为止，其余环境的内容照常输出
func (p *latexProcessor) unclosedEnvironment(t *texSource, name string, k, limit int, sb *strings.Builder, top bool) int {
	key := `\begin{` + name + `}`
	if !p.warned[key] {
		p.warned[key] = true
		p.logger.WithField("environment", name).Warn("Unclosed LaTeX environment")
	}

	base := strings.TrimSuffix(name, "*")
	switch {
	case droppedEnvironments[base]:
		sb.WriteByte('\n')
		return skipToBreak(t, k, limit)
	case name == "abstract" && top:
		p.builder.open("Abstract")
		return k
	default:
		return skipEnvironmentArgs(t, base, k, limit)
	}
}

func skipEnvironmentArgs(t *texSource, base string, from, limit int) int {
	_, start, _ := readOptional(t, from, limit)
	for a := 0; a < environmentArgs[base]; a++ {
		_, next, ok := readGroup(t, start, limit)
		if !ok {
			break
		}
		start = next
	}
	return start
}

// skipToBreak 返回from之后第一个空行之后或小节命令的位置
func skipToBreak(t *texSource, from, limit int) int {
	src := t.s
	for i := from; i < limit; i++ {
		switch src[i] {
		case '\n':
			k := i + 1
			for k < limit && (src[k] == ' ' || src[k] == '\t' || src[k] == '\r') {
				k++
			}
			if k < limit && src[k] == '\n' {
				return k
			}
		case '\\':
			name, _ := readControlWord(t, i, limit)
			if sectionCommands[name] {
				return i
			}
			if name == "" {
				i++
			} else {
				i += len(name)
			}
		}
	}
	return limit
}

// expandMacro 展开一次用户宏
func (p *latexProcessor) expandMacro(m latexMacro, t *texSource, j, limit int, sb *strings.Builder, top bool, depth int) int {
	args := make([]string, 0, m.args)
	k := j
	for a := 0; a < m.args; a++ {
		arg, next, ok := readGroup(t, k, limit)
		if !ok {
			break
		}
		args = append(args, t.text(arg))
		k = next
	}

	body := m.body
	for a := len(args); a >= 1; a-- {
		body = strings.ReplaceAll(body, "#"+strconv.Itoa(a), args[a-1])
	}
	p.process(newTexSource(body), texSpan{0, len(body)}, sb, top, depth+1)
	return k
}

// defineCommand 解析 \newcommand{\name}[n][default]{body}
func (p *latexProcessor) defineCommand(t *texSource, j, limit int) int {
	src := t.s
	k := skipSpace(src, j, limit)
	var name string
	if k < limit && src[k] == '{' {
		arg, next, ok := readGroup(t, k, limit)
		if !ok {
			return j
		}
		name = strings.TrimPrefix(strings.TrimSpace(t.text(arg)), `\`)
		k = next
	} else {
		word, next := readControlWord(t, k, limit)
		if word == "" {
			return j
		}
		name = word
		k = next
	}

	args := 0
	if n, next, ok := readOptional(t, k, limit); ok {
		args, _ = strconv.Atoi(strings.TrimSpace(t.text(n)))
		k = next
		if _, next, ok := readOptional(t, k, limit); ok {
			k = next
		}
	}

	body, next, ok := readGroup(t, k, limit)
	if !ok {
		return k
	}
	if name != "" {
		p.macros[name] = latexMacro{args: args, body: t.text(body)}
	}
	return next
}

// defineDef 解析 \def\name#1#2{body}
func (p *latexProcessor) defineDef(t *texSource, j, limit int) int {
	src := t.s
	name, k := readControlWord(t, skipSpace(src, j, limit), limit)
	if name == "" {
		return j
	}
	args := 0
	open := k
	for open < limit && open-k < maxDefParamText && src[open] != '{' {
		if src[open] == '#' {
			args++
		}
		open++
	}
	body, next, ok := readGroup(t, open, limit)
	if !ok {
		return k
	}
	p.macros[name] = latexMacro{args: args, body: t.text(body)}
	return next
}

// inlineMath 处理 $...$，$$...$$ 整体丢弃
func (p *latexProcessor) inlineMath(t *texSource, i, limit int, sb *strings.Builder) int {
	if strings.HasPrefix(t.s[i:limit], "$$") {
		end := t.index("$$", i+2)
		if end < 0 || end+2 > limit {
			return i + 2
		}
		return end + 2
	}
	end := t.indexUnescaped("$", i+1)
	if end < 0 || end >= limit {
		return i + 1
	}
	sb.WriteString(mathText(t.s[i+1 : end]))
	return end + 1
}

// render 把参数渲染成单行文本
func (p *latexProcessor) render(t *texSource, arg texSpan, depth int) string {
	var b strings.Builder
	p.process(t, arg, &b, false, depth)
	return strings.Join(strings.Fields(b.String()), " ")
}

// mathText 数学公式只保留可读文本，控制序列替换为名字
func mathText(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && isLetter(s[i+1]):
			j := i + 1
			for j < len(s) && isLetter(s[j]) {
				j++
			}
			if name := s[i+1 : j]; !mathSilent[name] {
				b.WriteString(name)
				if j < len(s) && s[j] == '\\' {
					b.WriteByte(' ')
				}
			}
			i = j
		case c == '\\' && i+1 < len(s):
			switch s[i+1] {
			case ',', ';', ':', '!', ' ', '\\':
				b.WriteByte(' ')
			default:
				b.WriteByte(s[i+1])
			}
			i += 2
		case c == '\\', c == '{', c == '}':
			i++
		case c == '~':
			b.WriteByte(' ')
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func verbatimInline(t *texSource, j, limit int, sb *strings.Builder) int {
	if j >= limit {
		return j
	}
	end := t.index(t.s[j:j+1], j+1)
	if end < 0 || end >= limit {
		return j + 1
	}
	sb.WriteString(strings.ReplaceAll(t.s[j+1:end], `\`, ""))
	return end + 1
}

// stripLatexComments 去掉注释，整行注释连同换行一起去掉
func stripLatexComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for _, line := range strings.SplitAfter(src, "\n") {
		idx := commentStart(line)
		if idx < 0 {
			b.WriteString(line)
			continue
		}
		if strings.TrimSpace(line[:idx]) == "" {
			continue
		}
		b.WriteString(line[:idx])
		if strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// commentStart 返回未转义的 % 的位置
func commentStart(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != '%' {
			continue
		}
		backslashes := 0
		for k := i - 1; k >= 0 && line[k] == '\\'; k-- {
			backslashes++
		}
		if backslashes%2 == 0 {
			return i
		}
	}
	return -1
}

// readGroup 跳过空白后读取一个 {...} 分组，返回分组内部的区间
func readGroup(t *texSource, i, limit int) (texSpan, int, bool) {
	k := skipSpace(t.s, i, limit)
	if k >= limit || t.s[k] != '{' {
		return texSpan{}, i, false
	}
	end := t.closing(k)
	if end < 0 || end >= limit {
		return texSpan{}, i, false
	}
	return texSpan{k + 1, end}, end + 1, true
}

// readOptional 跳过空白后读取一个 [...] 可选参数
func readOptional(t *texSource, i, limit int) (texSpan, int, bool) {
	k := skipSpace(t.s, i, limit)
	if k >= limit || t.s[k] != '[' {
		return texSpan{}, i, false
	}
	end := t.closing(k)
	if end < 0 || end >= limit {
		return texSpan{}, i, false
	}
	return texSpan{k + 1, end}, end + 1, true
}

// readControlWord 读取 \name，返回不带反斜杠的名字
func readControlWord(t *texSource, i, limit int) (string, int) {
	if i >= limit || t.s[i] != '\\' {
		return "", i
	}
	j := i + 1
	for j < limit && isLetter(t.s[j]) {
		j++
	}
	return t.s[i+1 : j], j
}

// skipSpace 跳过空格、制表符和单个换行，空行不跳过
func skipSpace(src string, i, limit int) int {
	newline := false
	for i < limit {
		switch src[i] {
		case ' ', '\t', '\r':
			i++
		case '\n':
			if newline {
				return i
			}
			newline = true
			i++
		default:
			return i
		}
	}
	return i
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '@'
}
