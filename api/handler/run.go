package handler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/paper-dataset/api/middleware"
	"github.com/fyerfyer/paper-dataset/api/model"
	"github.com/fyerfyer/paper-dataset/internal/llm"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/fyerfyer/paper-dataset/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RunHandler 处理流水线运行相关的API请求
type RunHandler struct {
	orchestrator *services.Orchestrator // 流水线编排器
	defaults     models.RunConfig       // 请求未指定时使用的配置
	lister       llm.ModelLister        // 模型列表，可为空
	exportDir    string                 // 请求指定的导出路径所在的根目录
	logger       *logrus.Logger         // 日志记录器
}

// NewRunHandler 创建新的运行处理器
func NewRunHandler(orchestrator *services.Orchestrator, defaults models.RunConfig, lister llm.ModelLister, exportDir string) *RunHandler {
	return &RunHandler{
		orchestrator: orchestrator,
		defaults:     defaults,
		lister:       lister,
		exportDir:    exportDir,
		logger:       middleware.GetLogger(),
	}
}

// StartRun 开始一次运行
// POST /api/runs
func (h *RunHandler) StartRun(c *gin.Context) {
	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Invalid run request")

		middleware.HandleError(c, middleware.NewValidationError("无效的请求参数", err.Error()))
		return
	}

	cfg := req.Apply(h.defaults)
	if req.Output != "" {
		out, err := confineOutput(h.exportDir, req.Output)
		if err != nil {
			h.logger.WithFields(logrus.Fields{
				"output": req.Output,
				"error":  err.Error(),
			}).Warn("Rejected run output path")

			middleware.HandleError(c, middleware.NewValidationError("无效的导出路径", err.Error()))
			return
		}
		cfg.OutputPath = out
	}

	runID, err := h.orchestrator.Start(c.Request.Context(), req.Paper, cfg)
	if err != nil {
		middleware.HandleError(c, runError(err))
		return
	}
	c.Set("RunID", runID)

	h.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"paper":  req.Paper,
		"format": cfg.Format,
	}).Info("Pipeline run started")

	state := models.StateIdle
	if snap, ok := h.orchestrator.Snapshot(); ok && snap.RunID == runID {
		state = snap.State
	}
	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.RunStartResponse{
		RunID:  runID,
		Paper:  req.Paper,
		State:  state,
		Format: cfg.Format,
		Output: cfg.OutputPath,
	}))
}

// GetCurrentRun 获取当前运行的快照
// GET /api/runs/current
func (h *RunHandler) GetCurrentRun(c *gin.Context) {
	snap, ok := h.orchestrator.Snapshot()
	if !ok {
		middleware.HandleError(c, middleware.NewNotFoundError("还没有运行记录"))
		return
	}
	c.Set("RunID", snap.RunID)
	c.JSON(http.StatusOK, model.NewSuccessResponse(snap))
}

// CancelRun 取消当前运行
// POST /api/runs/current/cancel
func (h *RunHandler) CancelRun(c *gin.Context) {
	snap, ok := h.orchestrator.Snapshot()
	if err := h.orchestrator.Cancel(); err != nil {
		middleware.HandleError(c, runError(err))
		return
	}
	if ok {
		c.Set("RunID", snap.RunID)
	}
	c.JSON(http.StatusAccepted, model.NewSuccessResponse(model.RunCancelResponse{
		RunID:     snap.RunID,
		Cancelled: true,
	}))
}

// ListSamples 分页列出当前运行已收集的样本
// GET /api/runs/current/samples
func (h *RunHandler) ListSamples(c *gin.Context) {
	var req model.SamplesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("无效的分页参数", err.Error()))
		return
	}

	snap, ok := h.orchestrator.Snapshot()
	if !ok {
		middleware.HandleError(c, middleware.NewNotFoundError("还没有运行记录"))
		return
	}

	samples := h.orchestrator.Samples()
	if req.Chunk != nil {
		filtered := samples[:0]
		for _, s := range samples {
			if s.ChunkIndex == *req.Chunk {
				filtered = append(filtered, s)
			}
		}
		samples = filtered
	}

	page, size := req.GetPage(), req.GetPageSize()
	start := (page - 1) * size
	if start > len(samples) {
		start = len(samples)
	}
	end := start + size
	if end > len(samples) {
		end = len(samples)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SamplesResponse{
		PaginationResponse: model.PaginationResponse{
			Total:    len(samples),
			Page:     page,
			PageSize: size,
		},
		RunID:   snap.RunID,
		Samples: samples[start:end],
	}))
}

// ListModels 列出大模型服务上可用的模型
// GET /api/models
func (h *RunHandler) ListModels(c *gin.Context) {
	if h.lister == nil {
		middleware.HandleError(c, middleware.NewBusinessError("当前模型服务不支持列出模型"))
		return
	}

	infos, err := h.lister.ListModels(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Failed to list models")
		middleware.HandleError(c, middleware.NewUnavailableError("无法获取模型列表", err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ModelsResponse{Models: infos}))
}

// ListFormats 列出支持的导出格式
// GET /api/formats
func (h *RunHandler) ListFormats(c *gin.Context) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.FormatsResponse{
		Formats: h.orchestrator.Formats(),
	}))
}

// runError 把编排器错误转换为应用错误，其余交给 FromError
func runError(err error) error {
	switch {
	case errors.Is(err, services.ErrRunActive):
		return middleware.NewConflictError("已有运行正在进行")
	case errors.Is(err, services.ErrNoRun):
		return middleware.NewNotFoundError("还没有运行记录")
	case errors.Is(err, services.ErrNotActive):
		return middleware.NewConflictError("当前运行已经结束")
	}
	return middleware.FromError(err)
}

// confineOutput 把请求中的相对导出路径限制在exportDir之下
// 绝对路径和包含 .. 的路径直接拒绝
func confineOutput(exportDir, output string) (string, error) {
	if filepath.IsAbs(output) || filepath.VolumeName(output) != "" || strings.HasPrefix(output, "/") {
		return "", fmt.Errorf("output must be relative to the export directory: %s", output)
	}
	for _, part := range strings.FieldsFunc(output, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return "", fmt.Errorf("output must not contain '..': %s", output)
		}
	}
	clean := filepath.Clean(filepath.FromSlash(output))
	if clean == "." {
		return "", fmt.Errorf("output must name a file: %s", output)
	}
	return filepath.Join(exportDir, clean), nil
}
