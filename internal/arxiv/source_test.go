package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/paper-dataset/internal/cache"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T, srv *httptest.Server, opts ...Option) *Source {
	t.Helper()
	logger, _ := test.NewNullLogger()
	base := []Option{
		WithEPrintBase(srv.URL + "/e-print"),
		WithAPIBase(srv.URL + "/api/query"),
		WithRetry(3, time.Millisecond),
		WithLogger(logger),
	}
	return NewSource(append(base, opts...)...)
}

func TestFetch(t *testing.T) {
	archive := buildTarGz(t, map[string]string{"main.tex": samplePaperTeX})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/e-print/2301.12345", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/x-eprint-tar")
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	s := newTestSource(t, srv)
	ref, err := s.Resolve("2301.12345")
	require.NoError(t, err)

	doc, err := s.Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, archive, doc.Content)
	assert.Equal(t, "application/x-eprint-tar", doc.ContentType)
	assert.Equal(t, ref, doc.Ref)
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := newTestSource(t, srv)
	ref, _ := s.Resolve("2301.12345")

	doc, err := s.Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(doc.Content))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := newTestSource(t, srv)
	ref, _ := s.Resolve("2301.12345")

	_, err := s.Fetch(context.Background(), ref)
	assert.ErrorIs(t, err, models.ErrNetwork)
	assert.True(t, models.KindOf(err).Retryable())
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchNotFound(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		s := newTestSource(t, srv)
		ref, _ := s.Resolve("2301.99999")

		_, err := s.Fetch(context.Background(), ref)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.Equal(t, int32(1), calls.Load(), "not found must not be retried")
		srv.Close()
	}
}

func TestFetchClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := newTestSource(t, srv)
	ref, _ := s.Resolve("2301.12345")

	_, err := s.Fetch(context.Background(), ref)
	assert.ErrorIs(t, err, models.ErrNetwork)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	s := newTestSource(t, srv)
	srv.Close()

	ref, _ := s.Resolve("2301.12345")
	_, err := s.Fetch(context.Background(), ref)
	assert.ErrorIs(t, err, models.ErrNetwork)
}

func TestFetchArchiveTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	s := newTestSource(t, srv, WithLimits(1024, 0))
	ref, _ := s.Resolve("2301.12345")

	_, err := s.Fetch(context.Background(), ref)
	assert.ErrorIs(t, err, models.ErrUnpack)
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestSource(t, srv, WithRetry(3, time.Hour))
	ref, _ := s.Resolve("2301.12345")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Fetch(ctx, ref)
	assert.ErrorIs(t, err, models.ErrCancelled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

const atomResponse = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:arxiv="http://arxiv.org/schemas/atom">
  <title type="html">ArXiv Query: id_list=2301.12345</title>
  <entry>
    <id>http://arxiv.org/abs/2301.12345v1</id>
    <published>2023-01-29T10:00:00Z</published>
    <title>A Study of
      SuperNet</title>
    <summary>  We study things.
    </summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Alan Turing</name></author>
    <category term="cs.CL" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>
</feed>`

func TestFetchMetadata(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/query", r.URL.Path)
		assert.Equal(t, "2301.12345", r.URL.Query().Get("id_list"))
		_, _ = w.Write([]byte(atomResponse))
	}))
	defer srv.Close()

	mem, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	s := newTestSource(t, srv, WithCache(mem))
	ref, _ := s.Resolve("2301.12345")

	meta, err := s.FetchMetadata(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "A Study of SuperNet", meta.Title)
	assert.Equal(t, "We study things.", meta.Abstract)
	assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, meta.Authors)
	assert.Equal(t, []string{"cs.CL", "cs.LG"}, meta.Categories)
	assert.Equal(t, 2023, meta.Published.Year())

	again, err := s.FetchMetadata(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, meta.Title, again.Title)
	assert.Equal(t, int32(1), calls.Load(), "second lookup must come from cache")
}

func TestFetchMetadataUnknownPaper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<feed xmlns="http://www.w3.org/2005/Atom"><entry><id>http://arxiv.org/api/errors#incorrect_id_format</id><title>Error</title></entry></feed>`))
	}))
	defer srv.Close()

	s := newTestSource(t, srv)
	ref, _ := s.Resolve("2301.99999")

	_, err := s.FetchMetadata(context.Background(), ref)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFetchMetadataForeignURL(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewSource(WithLogger(logger))

	ref, err := s.Resolve("https://example.org/paper.pdf")
	require.NoError(t, err)

	_, err = s.FetchMetadata(context.Background(), ref)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, hook.AllEntries())
}
