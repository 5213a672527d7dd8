package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorIs(t *testing.T) {
	err := NewError(KindNotFound, "paper 2301.00001", errors.New("status 404"))
	wrapped := fmt.Errorf("fetch: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrNetwork))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "status 404")
}

func TestErrorKindClassification(t *testing.T) {
	assert.True(t, KindNetwork.Retryable())
	assert.False(t, KindNotFound.Retryable())
	assert.False(t, KindMalformedGeneration.Fatal())
	assert.True(t, KindUnpack.Fatal())
}

func TestRunConfigValidate(t *testing.T) {
	valid := RunConfig{
		MaxChars:        1000,
		SamplesPerChunk: 1,
		Workers:         4,
		Model:           "llama3.2",
		Format:          "jsonl",
		OutputPath:      "out.jsonl",
	}
	require.NoError(t, valid.Validate())

	t.Run("zero max chars", func(t *testing.T) {
		c := valid
		c.MaxChars = 0
		err := c.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	})

	t.Run("overlap too large", func(t *testing.T) {
		c := valid
		c.OverlapChars = 600
		assert.Error(t, c.Validate())
	})

	t.Run("missing model", func(t *testing.T) {
		c := valid
		c.Model = ""
		assert.Error(t, c.Validate())
	})
}

func TestNormalizedDocumentHasContent(t *testing.T) {
	doc := &NormalizedDocument{Sections: []Section{{Title: "Intro", Body: "  \n "}}}
	assert.False(t, doc.HasContent())

	doc.Sections = append(doc.Sections, Section{Body: "text"})
	assert.True(t, doc.HasContent())
	assert.Equal(t, 8, doc.TextLength())
}
