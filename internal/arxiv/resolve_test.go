package arxiv

import (
	"testing"

	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantID string
		arxiv  bool
	}{
		{"bare new style", "2301.12345", "2301.12345", true},
		{"four digit sequence", "0704.0001", "0704.0001", true},
		{"versioned", "2301.12345v2", "2301.12345v2", true},
		{"prefixed", "arXiv:2301.12345", "2301.12345", true},
		{"old style", "hep-th/9901001", "hep-th/9901001", true},
		{"old style subject class", "math.GT/0309136v1", "math.GT/0309136v1", true},
		{"abs url", "https://arxiv.org/abs/2301.12345", "2301.12345", true},
		{"pdf url", "http://arxiv.org/pdf/2301.12345v3.pdf", "2301.12345v3", true},
		{"export host", "https://export.arxiv.org/e-print/2301.12345", "2301.12345", true},
		{"old style url", "https://arxiv.org/abs/hep-th/9901001", "hep-th/9901001", true},
		{"padded", "  2301.12345 \n", "2301.12345", true},
		{"foreign url", "https://example.org/papers/x.tar.gz", "https://example.org/papers/x.tar.gz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := Resolve(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, ref.Identifier)
			assert.Equal(t, tt.arxiv, ref.IsArxiv)
			if tt.arxiv {
				assert.Equal(t, DefaultEPrintBase+"/"+tt.wantID, ref.ArchiveURL)
			}

			again, err := Resolve(ref.Identifier)
			require.NoError(t, err)
			assert.Equal(t, ref, again, "resolve must be idempotent")
		})
	}
}

func TestResolveURLAndIDAgree(t *testing.T) {
	a, err := Resolve("2301.12345")
	require.NoError(t, err)
	b, err := Resolve("https://www.arxiv.org/abs/2301.12345")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolveInvalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not a paper",
		"2301.123",
		"12345.12345",
		"ftp://arxiv.org/abs/2301.12345",
		"https://arxiv.org/list/cs.CL/recent",
		"https://arxiv.org/abs/garbage",
		"http:///nohost",
	}
	for _, in := range inputs {
		_, err := Resolve(in)
		assert.ErrorIs(t, err, models.ErrInvalidReference, "input %q", in)
	}
}

func TestSourceResolveUsesConfiguredBase(t *testing.T) {
	s := NewSource(WithEPrintBase("http://mirror.local/src/"))
	ref, err := s.Resolve("2301.12345")
	require.NoError(t, err)
	assert.Equal(t, "http://mirror.local/src/2301.12345", ref.ArchiveURL)
}

func TestBaseID(t *testing.T) {
	assert.Equal(t, "2301.12345", baseID("2301.12345v2"))
	assert.Equal(t, "2301.12345", baseID("2301.12345"))
	assert.Equal(t, "hep-th/9901001", baseID("hep-th/9901001v1"))
}
