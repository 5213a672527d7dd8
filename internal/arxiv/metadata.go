package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fyerfyer/paper-dataset/internal/cache"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
)

// atomFeed arXiv 查询接口返回的 Atom 文档
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// FetchMetadata 查询论文标题、作者、摘要等元数据
// 只对 arXiv 论文可用，结果写入缓存
func (s *Source) FetchMetadata(ctx context.Context, ref models.PaperReference) (*models.PaperMetadata, error) {
	if !ref.IsArxiv {
		return nil, models.NewError(models.KindNotFound, "metadata is only available for arXiv papers", nil)
	}

	key := cache.GenerateCacheKey("arxiv:meta", ref.Identifier)
	if s.cache != nil {
		var meta models.PaperMetadata
		found, err := cache.GetJSON(ctx, s.cache, key, &meta)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to read metadata cache")
		}
		if found {
			return &meta, nil
		}
	}

	meta, err := s.queryMetadata(ctx, ref.Identifier)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, key, meta, metadataTTL); err != nil {
			s.logger.WithError(err).Warn("Failed to write metadata cache")
		}
	}
	return meta, nil
}

func (s *Source) queryMetadata(ctx context.Context, id string) (*models.PaperMetadata, error) {
	u := s.apiBase + "?id_list=" + url.QueryEscape(id) + "&max_results=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, models.NewError(models.KindInvalidReference, "failed to build metadata request", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, models.NewError(models.KindNetwork, "failed to query arXiv API", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, models.NewError(models.KindNetwork, fmt.Sprintf("arXiv API returned status %d", resp.StatusCode), nil)
	}

	var feed atomFeed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&feed); err != nil {
		return nil, models.NewError(models.KindNetwork, "failed to decode arXiv API response", err)
	}

	// 编号不存在时接口返回一个只有错误信息的条目
	for _, e := range feed.Entries {
		if !strings.Contains(e.ID, "/abs/") {
			continue
		}
		meta := &models.PaperMetadata{
			ID:       id,
			Title:    collapse(e.Title),
			Abstract: collapse(e.Summary),
		}
		for _, a := range e.Authors {
			meta.Authors = append(meta.Authors, collapse(a.Name))
		}
		for _, c := range e.Categories {
			meta.Categories = append(meta.Categories, c.Term)
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			meta.Published = t
		}

		s.logger.WithFields(logrus.Fields{
			"paper": id,
			"title": meta.Title,
		}).Debug("Paper metadata loaded")
		return meta, nil
	}

	return nil, models.NewError(models.KindNotFound, "no metadata for "+baseID(id), nil)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
