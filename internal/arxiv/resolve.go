package arxiv

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/fyerfyer/paper-dataset/internal/models"
)

var (
	// 新式编号 YYMM.NNNN[N][vN]
	newStyleID = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)
	// 旧式编号 archive[.SC]/YYMMNNN[vN]
	oldStyleID = regexp.MustCompile(`^[a-z][a-z\-]*(\.[A-Z]{2})?/\d{7}(v\d+)?$`)
	// arXiv 站点上的论文路径
	arxivPath = regexp.MustCompile(`^/(abs|pdf|e-print|src)/(.+?)(\.pdf)?/?$`)
)

var arxivHosts = map[string]bool{
	"arxiv.org":        true,
	"www.arxiv.org":    true,
	"export.arxiv.org": true,
}

// Resolve 使用默认下载地址解析论文标识
func Resolve(identifier string) (models.PaperReference, error) {
	return resolve(identifier, DefaultEPrintBase)
}

// IsArxivID 判断是否为合法的 arXiv 编号
func IsArxivID(id string) bool {
	return newStyleID.MatchString(id) || oldStyleID.MatchString(id)
}

func resolve(identifier, eprintBase string) (models.PaperReference, error) {
	id := strings.TrimSpace(identifier)
	if strings.HasPrefix(strings.ToLower(id), "arxiv:") {
		id = id[len("arxiv:"):]
	}
	if id == "" {
		return models.PaperReference{}, models.NewError(models.KindInvalidReference, "empty paper identifier", nil)
	}

	if IsArxivID(id) {
		return arxivReference(id, eprintBase), nil
	}

	u, err := url.Parse(id)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.PaperReference{}, models.NewError(models.KindInvalidReference,
			"not an arXiv identifier or URL: "+identifier, err)
	}

	if arxivHosts[strings.ToLower(u.Hostname())] {
		m := arxivPath.FindStringSubmatch(u.Path)
		if m == nil || !IsArxivID(m[2]) {
			return models.PaperReference{}, models.NewError(models.KindInvalidReference,
				"unrecognized arXiv URL: "+identifier, nil)
		}
		return arxivReference(m[2], eprintBase), nil
	}

	// 其他站点的URL原样使用
	u.Fragment = ""
	return models.PaperReference{
		Identifier: u.String(),
		ArchiveURL: u.String(),
	}, nil
}

func arxivReference(id, eprintBase string) models.PaperReference {
	return models.PaperReference{
		Identifier: id,
		ArchiveURL: strings.TrimRight(eprintBase, "/") + "/" + id,
		IsArxiv:    true,
	}
}

// baseID 去掉版本号后的编号
func baseID(id string) string {
	if i := strings.LastIndex(id, "v"); i > 0 {
		if rest := id[i+1:]; rest != "" && strings.Trim(rest, "0123456789") == "" {
			return id[:i]
		}
	}
	return id
}
