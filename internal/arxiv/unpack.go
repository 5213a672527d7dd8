package arxiv

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	pdfMagic  = []byte("%PDF-")

	inputDirective = regexp.MustCompile(`\\(input|include)\s*\{([^}]+)\}`)
)

// 主源文件的优先级，数值越小越优先
const (
	rankTeXMain = iota
	rankTeX
	rankMarkdown
	rankPDF
	rankText
	rankNone
)

// ExtractPrimarySource 解包源码并选出主源文件
// 所有文件写入 workdir，调用方负责清理
func (s *Source) ExtractPrimarySource(ctx context.Context, doc *models.RawDocument, workdir string) (*models.SourceFile, error) {
	if doc == nil || len(doc.Content) == 0 {
		return nil, models.NewError(models.KindUnpack, "empty archive", nil)
	}

	files, err := s.unpack(ctx, doc.Content, workdir)
	if err != nil {
		return nil, err
	}
	doc.Files = files

	primary, ok := s.choosePrimary(workdir, files)
	if !ok {
		return nil, models.NewError(models.KindUnpack, "no recognizable source file in archive", nil)
	}

	full := filepath.Join(workdir, filepath.FromSlash(primary.Name))
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, models.NewError(models.KindUnpack, "failed to read primary source", err)
	}

	if isTeX(primary.Name) {
		content = s.inlineInputs(workdir, path.Dir(primary.Name), content, 0)
	}

	s.logger.WithFields(logrus.Fields{
		"paper":   doc.Ref.Identifier,
		"primary": primary.Name,
		"files":   len(files),
	}).Info("Primary source selected")

	return &models.SourceFile{
		Name:    primary.Name,
		Path:    full,
		Content: content,
	}, nil
}

// unpack 识别 gzip、tar、tar.gz、PDF 和纯文本
func (s *Source) unpack(ctx context.Context, data []byte, workdir string) ([]models.ArchiveFile, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, models.NewError(models.KindUnpack, "corrupt gzip stream", err)
		}
		defer zr.Close()

		inner, err := io.ReadAll(io.LimitReader(zr, s.maxUnpackBytes+1))
		if err != nil {
			return nil, models.NewError(models.KindUnpack, "corrupt gzip stream", err)
		}
		if int64(len(inner)) > s.maxUnpackBytes {
			return nil, models.NewError(models.KindUnpack, fmt.Sprintf("archive expands beyond %d bytes", s.maxUnpackBytes), nil)
		}
		if isTar(inner) {
			return s.untar(ctx, inner, workdir)
		}
		return s.writeSingle(inner, workdir)
	}

	if isTar(data) {
		return s.untar(ctx, data, workdir)
	}
	return s.writeSingle(data, workdir)
}

func isTar(data []byte) bool {
	return len(data) > 262 && string(data[257:262]) == "ustar"
}

// writeSingle 处理单文件源码（gzip 压缩的 TeX 或直接的 PDF）
func (s *Source) writeSingle(data []byte, workdir string) ([]models.ArchiveFile, error) {
	var name string
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		name = "paper.pdf"
	case looksLikeText(data):
		name = "main.txt"
		if bytes.Contains(data, []byte(`\documentclass`)) || bytes.Contains(data, []byte(`\begin{`)) ||
			bytes.Contains(data, []byte(`\section`)) {
			name = "main.tex"
		}
	default:
		return nil, models.NewError(models.KindUnpack, "unrecognized archive format", nil)
	}

	if err := os.WriteFile(filepath.Join(workdir, name), data, 0o600); err != nil {
		return nil, models.NewError(models.KindUnpack, "failed to write source file", err)
	}
	return []models.ArchiveFile{{Name: name, Size: int64(len(data))}}, nil
}

// untar 解出普通文件，跳过越出工作目录的条目
func (s *Source) untar(ctx context.Context, data []byte, workdir string) ([]models.ArchiveFile, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	var (
		files []models.ArchiveFile
		total int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, models.NewError(models.KindCancelled, "unpack cancelled", err)
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, models.NewError(models.KindUnpack, "corrupt tar archive", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name, ok := safeName(hdr.Name)
		if !ok {
			s.logger.WithField("entry", hdr.Name).Warn("Skipping archive entry outside workspace")
			continue
		}

		total += hdr.Size
		if total > s.maxUnpackBytes {
			return nil, models.NewError(models.KindUnpack, fmt.Sprintf("archive expands beyond %d bytes", s.maxUnpackBytes), nil)
		}

		target := filepath.Join(workdir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return nil, models.NewError(models.KindUnpack, "failed to create directory", err)
		}
		if err := writeEntry(target, tr, hdr.Size); err != nil {
			return nil, models.NewError(models.KindUnpack, "failed to extract "+name, err)
		}
		files = append(files, models.ArchiveFile{Name: name, Size: hdr.Size})
	}

	if len(files) == 0 {
		return nil, models.NewError(models.KindUnpack, "archive contains no files", nil)
	}
	return files, nil
}

func writeEntry(target string, r io.Reader, size int64) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(f, r, size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// safeName 规范化条目路径，拒绝绝对路径和 ..
func safeName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") {
		return "", false
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return clean, true
}

// choosePrimary 按优先级选择主源文件，同级按大小降序、名称升序
func (s *Source) choosePrimary(workdir string, files []models.ArchiveFile) (models.ArchiveFile, bool) {
	type candidate struct {
		file models.ArchiveFile
		rank int
	}

	var candidates []candidate
	for _, f := range files {
		rank := s.rankFile(workdir, f.Name)
		if rank == rankNone {
			continue
		}
		candidates = append(candidates, candidate{file: f, rank: rank})
	}
	if len(candidates) == 0 {
		return models.ArchiveFile{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.file.Size != b.file.Size {
			return a.file.Size > b.file.Size
		}
		return a.file.Name < b.file.Name
	})
	return candidates[0].file, true
}

func (s *Source) rankFile(workdir, name string) int {
	switch strings.ToLower(path.Ext(name)) {
	case ".tex", ".ltx", ".latex":
		data, err := os.ReadFile(filepath.Join(workdir, filepath.FromSlash(name)))
		if err == nil && bytes.Contains(data, []byte(`\documentclass`)) {
			return rankTeXMain
		}
		return rankTeX
	case ".md", ".markdown":
		return rankMarkdown
	case ".pdf":
		return rankPDF
	case ".txt", ".text":
		return rankText
	default:
		return rankNone
	}
}

// inlineInputs 把 \input 和 \include 替换为被引用文件的内容
// 找不到的文件记录警告后保留为空
func (s *Source) inlineInputs(workdir, dir string, content []byte, depth int) []byte {
	if depth >= s.maxInputDepth {
		return content
	}

	matches := inputDirective.FindAllSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content
	}

	var out bytes.Buffer
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		out.Write(content[last:start])
		last = end
		if commentedAt(content, start) {
			out.Write(content[start:end])
			continue
		}
		ref := strings.TrimSpace(string(content[m[4]:m[5]]))
		data, name, ok := s.readInput(workdir, dir, ref)
		if !ok {
			s.logger.WithField("file", ref).Warn("Included file not found in archive")
			continue
		}
		out.Write(s.inlineInputs(workdir, path.Dir(name), data, depth+1))
	}
	out.Write(content[last:])
	return out.Bytes()
}

// commentedAt 判断content[idx]所在行在idx之前是否有未转义的 %
func commentedAt(content []byte, idx int) bool {
	lineStart := bytes.LastIndexByte(content[:idx], '\n') + 1
	for i := lineStart; i < idx; i++ {
		switch content[i] {
		case '\\':
			i++
		case '%':
			return true
		}
	}
	return false
}

func (s *Source) readInput(workdir, dir, ref string) ([]byte, string, bool) {
	candidates := []string{path.Join(dir, ref), ref}
	if path.Ext(ref) == "" {
		candidates = []string{path.Join(dir, ref+".tex"), ref + ".tex", path.Join(dir, ref), ref}
	}
	for _, c := range candidates {
		name, ok := safeName(c)
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(workdir, filepath.FromSlash(name)))
		if err == nil {
			return data, name, true
		}
	}
	return nil, "", false
}

func isTeX(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".tex", ".ltx", ".latex":
		return true
	}
	return false
}

// looksLikeText 前4KB是合法UTF-8且不含NUL
func looksLikeText(data []byte) bool {
	head := data
	if len(head) > 4096 {
		head = head[:4096]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return false
	}
	// 截断可能切在多字节字符中间
	for i := 0; i < utf8.UTFMax && len(head) > 0 && !utf8.Valid(head); i++ {
		head = head[:len(head)-1]
	}
	return utf8.Valid(head)
}
