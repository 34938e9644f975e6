package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/TIANLI0/MoodLens/config"
	"github.com/TIANLI0/MoodLens/model"
	"github.com/TIANLI0/MoodLens/service"
	"github.com/TIANLI0/MoodLens/store"
	"github.com/TIANLI0/MoodLens/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type EmotionHandler struct {
	cfg      *config.Config
	analyzer *service.AnalyzerService
	events   store.Store
}

func NewEmotionHandler(cfg *config.Config, analyzer *service.AnalyzerService, events store.Store) *EmotionHandler {
	return &EmotionHandler{
		cfg:      cfg,
		analyzer: analyzer,
		events:   events,
	}
}

// Analyze 识别单帧
func (h *EmotionHandler) Analyze(c *gin.Context) {
	var req model.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请求格式错误",
			Error:   err.Error(),
		})
		return
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), &req)
	if err != nil {
		status, message := classify(err)
		if status >= http.StatusInternalServerError {
			utils.Logger.Error("failed to analyze frame",
				zap.String("student_id", req.StudentID), zap.Error(err))
		}
		c.JSON(status, model.ErrorResponse{
			Success: false,
			Message: message,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Batch 批量识别，单帧失败不影响其他帧
func (h *EmotionHandler) Batch(c *gin.Context) {
	var req model.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请求格式错误",
			Error:   err.Error(),
		})
		return
	}

	limit := h.cfg.Analyzer.BatchLimit
	if len(req.Frames) == 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "帧列表不能为空",
		})
		return
	}
	if limit > 0 && len(req.Frames) > limit {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("帧数量需在 1 到 %d 之间", limit),
		})
		return
	}

	ctx := c.Request.Context()
	items := make([]model.BatchItem, len(req.Frames))

	var g errgroup.Group
	if workers := h.cfg.Analyzer.BatchWorkers; workers > 0 {
		g.SetLimit(workers)
	}
	for i := range req.Frames {
		i := i
		g.Go(func() error {
			items[i].Index = i
			result, err := h.analyzer.Analyze(ctx, &req.Frames[i])
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Result = result
			return nil
		})
	}
	g.Wait()

	utils.Logger.Info("batch analyzed", zap.Int("frames", len(items)))
	c.JSON(http.StatusOK, model.BatchResponse{
		Success: true,
		Items:   items,
	})
}

// Summary 班级情绪汇总
func (h *EmotionHandler) Summary(c *gin.Context) {
	classID := c.Param("classId")
	if classID == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "classId参数缺失",
		})
		return
	}

	summary, err := h.events.Summary(c.Request.Context(), classID)
	if err != nil {
		if errors.Is(err, store.ErrDisabled) {
			c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
				Success: false,
				Message: "未启用事件存储",
			})
			return
		}
		utils.Logger.Error("failed to get class summary", zap.String("class_id", classID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "查询失败",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, model.SummaryResponse{
		Success: true,
		Message: "查询成功",
		Data:    summary,
	})
}

// Forget 清除学生的平滑历史
func (h *EmotionHandler) Forget(c *gin.Context) {
	studentID := c.Param("studentId")
	if err := h.analyzer.Forget(c.Request.Context(), studentID); err != nil {
		utils.Logger.Error("failed to forget subject", zap.String("student_id", studentID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "清除失败",
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "已清除",
	})
}

// classify 错误到 HTTP 状态码与提示
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrMissingField):
		return http.StatusBadRequest, "缺少必填字段"
	case errors.Is(err, service.ErrDecode):
		return http.StatusBadRequest, "图片解码失败"
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable, "处理队列已满，请稍后重试"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "请求已取消"
	default:
		return http.StatusInternalServerError, "识别失败"
	}
}
