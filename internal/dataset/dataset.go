package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyerfyer/paper-dataset/internal/models"
)

// ErrFrozen 导出开始后数据集不再接受新样本
var ErrFrozen = errors.New("dataset is frozen")

type dedupKey struct {
	chunk int
	hash  string
}

type entry struct {
	sample models.SynthesizedSample
	hash   string
}

// Dataset 去重后的样本集合
// 可以并发追加；按 (块序号, 样本序号, 发言摘要) 排序输出，与追加顺序无关
type Dataset struct {
	mu      sync.RWMutex
	entries []entry
	seen    map[dedupKey]struct{}
	frozen  bool
}

// New 创建空数据集
func New() *Dataset {
	return &Dataset{seen: make(map[dedupKey]struct{})}
}

// TurnHash 对话内容的sha256摘要
func TurnHash(turns []models.Turn) string {
	h := sha256.New()
	for _, t := range turns {
		h.Write([]byte(t.Speaker))
		h.Write([]byte{0x1f})
		h.Write([]byte(t.Text))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SampleID 样本的稳定标识
func SampleID(s models.SynthesizedSample) string {
	return fmt.Sprintf("%d-%d-%s", s.ChunkIndex, s.SampleIndex, TurnHash(s.Turns)[:12])
}

// Append 追加样本，无效样本和重复样本返回false
func (d *Dataset) Append(s models.SynthesizedSample) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frozen {
		return false, ErrFrozen
	}
	if !s.Valid || len(s.Turns) == 0 {
		return false, nil
	}

	hash := TurnHash(s.Turns)
	key := dedupKey{chunk: s.ChunkIndex, hash: hash}
	if _, dup := d.seen[key]; dup {
		return false, nil
	}
	d.seen[key] = struct{}{}

	s.Turns = append([]models.Turn(nil), s.Turns...)
	d.entries = append(d.entries, entry{sample: s, hash: hash})
	return true, nil
}

// Freeze 冻结数据集
func (d *Dataset) Freeze() {
	d.mu.Lock()
	d.frozen = true
	d.mu.Unlock()
}

// Frozen 是否已冻结
func (d *Dataset) Frozen() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frozen
}

// Len 样本数量
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Samples 返回排序后的样本副本
func (d *Dataset) Samples() []models.SynthesizedSample {
	d.mu.RLock()
	sorted := make([]entry, len(d.entries))
	copy(sorted, d.entries)
	d.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.sample.ChunkIndex != b.sample.ChunkIndex {
			return a.sample.ChunkIndex < b.sample.ChunkIndex
		}
		if a.sample.SampleIndex != b.sample.SampleIndex {
			return a.sample.SampleIndex < b.sample.SampleIndex
		}
		return a.hash < b.hash
	})

	out := make([]models.SynthesizedSample, len(sorted))
	for i, e := range sorted {
		s := e.sample
		s.Turns = append([]models.Turn(nil), e.sample.Turns...)
		out[i] = s
	}
	return out
}

// Stats 统计样本、轮次和词数
func (d *Dataset) Stats() models.DatasetStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := models.DatasetStats{
		Samples:        len(d.entries),
		TurnsBySpeaker: make(map[string]int),
	}
	chunks := make(map[int]struct{})
	turns := 0
	for _, e := range d.entries {
		chunks[e.sample.ChunkIndex] = struct{}{}
		for _, t := range e.sample.Turns {
			turns++
			stats.TurnsBySpeaker[string(t.Speaker)]++
			stats.TotalWords += len(strings.Fields(t.Text))
		}
	}
	stats.Chunks = len(chunks)
	if stats.Samples > 0 {
		stats.AverageTurns = float64(turns) / float64(stats.Samples)
	}
	return stats
}
