package services

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fyerfyer/paper-dataset/internal/dataset"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRunActive 已有运行未结束
	ErrRunActive = errors.New("a pipeline run is already active")
	// ErrNoRun 还没有任何运行
	ErrNoRun = errors.New("no pipeline run")
	// ErrNotActive 当前运行已结束
	ErrNotActive = errors.New("pipeline run is not active")
)

// validTransitions 合法的状态转换
var validTransitions = map[models.PipelineState][]models.PipelineState{
	models.StateIdle:       {models.StateFetching, models.StateFailed, models.StateCancelled},
	models.StateFetching:   {models.StateExtracting, models.StateFailed, models.StateCancelled},
	models.StateExtracting: {models.StateChunking, models.StateFailed, models.StateCancelled},
	models.StateChunking:   {models.StateGenerating, models.StateFailed, models.StateCancelled},
	models.StateGenerating: {models.StateExporting, models.StateFailed, models.StateCancelled},
	models.StateExporting:  {models.StateCompleted, models.StateFailed, models.StateCancelled},
	// 终态只能开始新的运行
	models.StateCompleted: {models.StateIdle},
	models.StateFailed:    {models.StateIdle},
	models.StateCancelled: {models.StateIdle},
}

// ValidateStateTransition 验证状态转换的有效性
func ValidateStateTransition(from, to models.PipelineState) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid state transition: %s -> %s", from, to)
	}
	return nil
}

// runStatus 一次运行的可变状态
// 所有字段由 mu 保护，对外只暴露快照
type runStatus struct {
	mu sync.RWMutex

	id         string
	paper      string
	config     models.RunConfig
	state      models.PipelineState
	progress   models.Progress
	diagnostic *models.Diagnostic
	genDiags   []models.GenerationDiagnostic
	metadata   *models.PaperMetadata
	artifactID string
	publishErr string
	succeeded  int
	started    time.Time
	finished   *time.Time
	updated    time.Time
	err        error

	dataset *dataset.Dataset
	cancel  func()
	done    chan struct{}
	logger  *logrus.Entry
}

func newRunStatus(id, paper string, cfg models.RunConfig, logger *logrus.Logger) *runStatus {
	now := time.Now()
	return &runStatus{
		id:      id,
		paper:   paper,
		config:  cfg,
		state:   models.StateIdle,
		started: now,
		updated: now,
		dataset: dataset.New(),
		done:    make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{
			"run_id": id,
			"paper":  paper,
		}),
	}
}

// enter 进入新阶段，进度清零
func (r *runStatus) enter(to models.PipelineState, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ValidateStateTransition(r.state, to); err != nil {
		return models.NewError(models.KindInternal, "stage transition", err)
	}
	r.logger.WithFields(logrus.Fields{
		"from": r.state,
		"to":   to,
	}).Info("Pipeline stage changed")

	r.state = to
	r.progress = models.Progress{Total: total}
	r.updated = time.Now()
	return nil
}

// advance 增加当前阶段的已处理数
func (r *runStatus) advance(n int) {
	r.mu.Lock()
	r.progress.Processed += n
	if r.progress.Processed > r.progress.Total {
		r.progress.Total = r.progress.Processed
	}
	r.updated = time.Now()
	r.mu.Unlock()
}

func (r *runStatus) stage() models.PipelineState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *runStatus) setMetadata(meta *models.PaperMetadata) {
	r.mu.Lock()
	r.metadata = meta
	r.mu.Unlock()
}

func (r *runStatus) addChunkResult(samples []models.SynthesizedSample, diags []models.GenerationDiagnostic, ok bool) {
	for _, s := range samples {
		if _, err := r.dataset.Append(s); err != nil {
			r.logger.WithError(err).Warn("Sample dropped")
		}
	}

	r.mu.Lock()
	r.genDiags = append(r.genDiags, diags...)
	if ok {
		r.succeeded++
	}
	r.mu.Unlock()
	r.advance(1)
}

func (r *runStatus) setArtifact(id string, err error) {
	r.mu.Lock()
	r.artifactID = id
	if err != nil {
		r.publishErr = err.Error()
	}
	r.mu.Unlock()
}

// finish 进入终态并记录诊断信息
func (r *runStatus) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	to := models.StateCompleted
	if err != nil {
		to = models.StateFailed
		if models.KindOf(err) == models.KindCancelled {
			to = models.StateCancelled
		}

		kind := models.KindOf(err)
		if kind == "" {
			kind = models.KindInternal
		}
		r.diagnostic = &models.Diagnostic{
			Stage:     r.state,
			Kind:      kind,
			Message:   err.Error(),
			Succeeded: r.succeeded,
			Failed:    len(r.genDiags),
			Time:      time.Now(),
		}
	}

	if tErr := ValidateStateTransition(r.state, to); tErr != nil {
		r.logger.WithError(tErr).Error("Unexpected terminal transition")
	}

	now := time.Now()
	r.state = to
	r.finished = &now
	r.updated = now
	r.err = err

	entry := r.logger.WithFields(logrus.Fields{
		"state":   to,
		"samples": r.dataset.Len(),
	})
	switch to {
	case models.StateCompleted:
		entry.Info("Pipeline run completed")
	case models.StateCancelled:
		entry.Warn("Pipeline run cancelled")
	default:
		entry.WithError(err).Error("Pipeline run failed")
	}
}

func (r *runStatus) snapshot() models.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := models.Snapshot{
		RunID:      r.id,
		Paper:      r.paper,
		State:      r.state,
		Progress:   r.progress,
		Generation: slices.Clone(r.genDiags),
		Stats:      r.dataset.Stats(),
		Metadata:   r.metadata,
		OutputPath: r.config.OutputPath,
		ArtifactID: r.artifactID,
		PublishErr: r.publishErr,
		StartedAt:  r.started,
		FinishedAt: r.finished,
		UpdatedAt:  r.updated,
	}
	if r.diagnostic != nil {
		d := *r.diagnostic
		snap.Diagnostic = &d
	}
	return snap
}
