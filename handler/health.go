package handler

import (
	"net/http"

	"github.com/TIANLI0/MoodLens/service"
	"github.com/gin-gonic/gin"
)

// BuildInfo 编译期注入的版本信息
type BuildInfo struct {
	Version   string
	BuildTime string
	BuildID   string
	GitCommit string
	GitBranch string
}

type HealthHandler struct {
	build    BuildInfo
	analyzer *service.AnalyzerService
}

func NewHealthHandler(build BuildInfo, analyzer *service.AnalyzerService) *HealthHandler {
	return &HealthHandler{build: build, analyzer: analyzer}
}

// Health 健康检查，附带当前级联阈值
func (h *HealthHandler) Health(c *gin.Context) {
	p := h.analyzer.Policy()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.build.Version,
		"mode":    "hybrid",
		"stages":  h.analyzer.Stages(),
		"thresholds": gin.H{
			"fast":           p.FastThreshold,
			"fast_floor":     p.FastFloor,
			"fallback":       p.FallbackThreshold,
			"fallback_floor": p.FallbackFloor,
			"min_face_size":  p.MinFaceSize,
		},
	})
}

func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    h.build.Version,
		"build_time": h.build.BuildTime,
		"build_id":   h.build.BuildID,
		"git_commit": h.build.GitCommit,
		"git_branch": h.build.GitBranch,
	})
}
