package arxiv

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePaperTeX = `\documentclass{article}
\title{A Study of SuperNet}
\begin{document}
\maketitle
\section{Introduction}
We introduce SuperNet.
\input{sections/method}
\end{document}
`

// buildTar 按文件名顺序打包
func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range names {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	return gzipBytes(t, buildTar(t, files))
}

func extract(t *testing.T, content []byte) (*models.SourceFile, *models.RawDocument, error) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s := NewSource(WithLogger(logger))
	doc := &models.RawDocument{Ref: models.PaperReference{Identifier: "2301.12345"}, Content: content}
	src, err := s.ExtractPrimarySource(context.Background(), doc, t.TempDir())
	return src, doc, err
}

func TestExtractTarGzPicksDocumentClass(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"main.tex":            samplePaperTeX,
		"sections/method.tex": `\section{Method}We train it.`,
		"appendix.tex":        `\section{Appendix} a much longer file that has no document class at all ........`,
		"figures/plot.png":    "\x89PNG",
		"README.md":           "# readme",
	})

	src, doc, err := extract(t, archive)
	require.NoError(t, err)
	assert.Equal(t, "main.tex", src.Name)
	assert.Contains(t, string(src.Content), `\section{Method}We train it.`)
	assert.NotContains(t, string(src.Content), `\input`)
	assert.Len(t, doc.Files, 5)
	assert.FileExists(t, src.Path)
}

func TestExtractPriorityOrder(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			name:  "any tex before markdown",
			files: map[string]string{"notes.tex": `\section{A} b`, "paper.md": "# Paper\n\nlong markdown body"},
			want:  "notes.tex",
		},
		{
			name:  "markdown before pdf",
			files: map[string]string{"paper.md": "# Paper", "paper.pdf": "%PDF-1.4 ..."},
			want:  "paper.md",
		},
		{
			name:  "pdf before text",
			files: map[string]string{"paper.pdf": "%PDF-1.4", "abstract.txt": "text"},
			want:  "paper.pdf",
		},
		{
			name: "larger main wins",
			files: map[string]string{
				"a.tex": "\\documentclass{article}\n",
				"b.tex": "\\documentclass{article}\n\\begin{document}longer\\end{document}",
			},
			want: "b.tex",
		},
		{
			name: "lexical tie break",
			files: map[string]string{
				"z.tex": "\\documentclass{x}",
				"a.tex": "\\documentclass{y}",
			},
			want: "a.tex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _, err := extract(t, buildTarGz(t, tt.files))
			require.NoError(t, err)
			assert.Equal(t, tt.want, src.Name)
		})
	}
}

func TestExtractPlainTar(t *testing.T) {
	src, _, err := extract(t, buildTar(t, map[string]string{"paper.tex": samplePaperTeX}))
	require.NoError(t, err)
	assert.Equal(t, "paper.tex", src.Name)
}

func TestExtractGzipSingleFile(t *testing.T) {
	src, doc, err := extract(t, gzipBytes(t, []byte(samplePaperTeX)))
	require.NoError(t, err)
	assert.Equal(t, "main.tex", src.Name)
	require.Len(t, doc.Files, 1)
	assert.Equal(t, int64(len(samplePaperTeX)), doc.Files[0].Size)
}

func TestExtractBarePDF(t *testing.T) {
	src, _, err := extract(t, []byte("%PDF-1.7\n%binary"))
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", src.Name)
}

func TestExtractMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"truncated gzip", gzipBytes(t, []byte(samplePaperTeX))[:20]},
		{"gzip header with garbage", append([]byte{0x1f, 0x8b, 0x08, 0x00}, bytes.Repeat([]byte{0xff}, 64)...)},
		{"binary junk", []byte{0x00, 0x01, 0x02, 0xfe, 0xff, 0x00}},
		{"tar without sources", buildTarGz(t, map[string]string{"fig.png": "\x89PNG", "style.sty": "x"})},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := extract(t, tt.content)
			assert.ErrorIs(t, err, models.ErrUnpack)
		})
	}
}

func TestExtractSkipsPathTraversal(t *testing.T) {
	logger, hook := test.NewNullLogger()
	s := NewSource(WithLogger(logger))

	root := t.TempDir()
	workdir := filepath.Join(root, "work")
	require.NoError(t, os.Mkdir(workdir, 0o700))

	archive := buildTarGz(t, map[string]string{
		"../escape.tex":     `\documentclass{article} evil`,
		"/etc/passwd.tex":   `\documentclass{article} evil`,
		"paper/../main.tex": samplePaperTeX,
	})
	doc := &models.RawDocument{Content: archive}

	src, err := s.ExtractPrimarySource(context.Background(), doc, workdir)
	require.NoError(t, err)
	assert.Equal(t, "main.tex", src.Name)
	assert.NoFileExists(t, filepath.Join(root, "escape.tex"))

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	// 两个越界条目，外加一个找不到的 \input
	assert.Equal(t, 3, warnings)
}

func TestExtractUnpackLimit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := NewSource(WithLogger(logger), WithLimits(0, 64))

	archive := buildTarGz(t, map[string]string{"main.tex": samplePaperTeX + string(bytes.Repeat([]byte("x"), 128))})
	_, err := s.ExtractPrimarySource(context.Background(), &models.RawDocument{Content: archive}, t.TempDir())
	assert.ErrorIs(t, err, models.ErrUnpack)
}

func TestInlineInputs(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		"main.tex":  "\\documentclass{article}\n\\begin{document}\n\\input{a}\n%\\input{b}\n\\include{sub/c}\n\\end{document}",
		"a.tex":     "From A. \\input{sub/c.tex}",
		"b.tex":     "From B.",
		"sub/c.tex": "From C.",
		"self.tex":  "\\input{self}",
	})

	src, _, err := extract(t, archive)
	require.NoError(t, err)
	content := string(src.Content)
	assert.Contains(t, content, "From A. From C.")
	assert.Contains(t, content, "%\\input{b}")
	assert.NotContains(t, content, "From B.")
}

func TestInlineInputsDepthLimit(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := NewSource(WithLogger(logger))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loop.tex"), []byte(`x\input{loop}`), 0o600))

	out := s.inlineInputs(dir, ".", []byte(`\input{loop}`), 0)
	assert.Equal(t, "xxxxxxxx\\input{loop}", string(out))
}

func TestInlineInputsRepeatedDirective(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := NewSource(WithLogger(logger))
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.tex"), []byte("From X."), 0o600))

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"commented first", "% \\input{x}\nLive: \\input{x}", "% \\input{x}\nLive: From X."},
		{"commented last", "Live: \\input{x}\n% \\input{x}", "Live: From X.\n% \\input{x}"},
		{"trailing comment", "Text \\input{x} % \\input{x}", "Text From X. % \\input{x}"},
		{"escaped percent", "100\\% \\input{x}", "100\\% From X."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.inlineInputs(dir, ".", []byte(tt.content), 0)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestWorkspace(t *testing.T) {
	root := t.TempDir()
	ws, err := NewWorkspace(filepath.Join(root, "runs"))
	require.NoError(t, err)
	assert.DirExists(t, ws.Dir())

	require.NoError(t, os.WriteFile(filepath.Join(ws.Dir(), "f"), []byte("x"), 0o600))
	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())
	assert.NoDirExists(t, ws.Dir())

	entries, err := os.ReadDir(filepath.Join(root, "runs"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
