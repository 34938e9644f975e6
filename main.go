package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/classifier"
	"github.com/TIANLI0/MoodLens/config"
	"github.com/TIANLI0/MoodLens/handler"
	"github.com/TIANLI0/MoodLens/middleware"
	"github.com/TIANLI0/MoodLens/service"
	"github.com/TIANLI0/MoodLens/service/opencv"
	"github.com/TIANLI0/MoodLens/smoother"
	"github.com/TIANLI0/MoodLens/store"
	"github.com/TIANLI0/MoodLens/utils"
	"github.com/TIANLI0/MoodLens/vision"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode, zap.String("version", Version)); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting MoodLens server",
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	ctx := context.Background()
	var opts []service.AnalyzerOption

	// 初始化Redis
	var redisService *service.RedisService
	if cfg.Redis.Enabled {
		redisService = service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			redisService.Close()
			redisService = nil
		} else {
			utils.Logger.Info("redis connected successfully")
			opts = append(opts, service.WithOutcomeCache(redisService))
			defer redisService.Close()
		}
	}

	// 平滑历史
	var history smoother.Store
	if cfg.Smoothing.Driver == "redis" && redisService != nil {
		history = smoother.NewRedisStore(redisService.Client(), cfg.Smoothing.Config, utils.Logger)
	} else {
		if cfg.Smoothing.Driver == "redis" {
			utils.Logger.Warn("redis unavailable, smoothing history kept in memory")
		}
		history = smoother.NewMemoryStore(cfg.Smoothing.Config, utils.Logger)
	}
	defer history.Close()

	// 图像解码
	var decoder vision.Decoder
	switch cfg.Image.Decoder {
	case "imaging":
		decoder = vision.ImagingDecoder{MaxSide: cfg.Image.MaxSide, MinSide: cfg.Image.MinSide}
	default:
		decoder = opencv.NewNormalizer(cfg.Image.MaxSide, cfg.Image.MinSide)
	}

	// 人脸定位
	locator, closeLocator := newLocator(&cfg.Detector)
	defer closeLocator()

	// 分类级联
	set, err := classifier.Build(ctx, cfg)
	if err != nil {
		utils.Logger.Fatal("failed to build classifiers", zap.Error(err))
	}
	defer set.Close()

	cas, err := cascade.New(set.Fast, set.Fallbacks, cfg.Cascade.Policy, cascade.WithLogger(utils.Logger))
	if err != nil {
		utils.Logger.Fatal("invalid cascade", zap.Error(err))
	}

	// 事件存储
	var events store.Store = store.NopStore{}
	if cfg.Store.DSN != "" {
		eventStore, err := store.Open(ctx, cfg.Store)
		if err != nil {
			utils.Logger.Warn("event store unavailable, recording disabled", zap.Error(err))
		} else {
			utils.Logger.Info("event store connected")
			events = eventStore
			opts = append(opts, service.WithRecorder(eventStore))
		}
	}
	defer events.Close()

	analyzer := service.NewAnalyzerService(service.AnalyzerConfigFrom(cfg), decoder, locator, cas, history, opts...)

	// 初始化Handler
	emotionHandler := handler.NewEmotionHandler(cfg, analyzer, events)
	healthHandler := handler.NewHealthHandler(handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		BuildID:   BuildID,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	}, analyzer)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodySize))

	// 健康检查和版本信息
	r.GET("/health", healthHandler.Health)
	r.GET("/version", healthHandler.Version)

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/analyze", emotionHandler.Analyze)
		api.POST("/analyze/batch", emotionHandler.Batch)
		api.GET("/class/:classId/summary", emotionHandler.Summary)
		api.DELETE("/subject/:studentId", emotionHandler.Forget)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	utils.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server shutdown failed", zap.Error(err))
	}
}

// newLocator 按配置创建人脸定位器，加载失败时退化为分类器自行检测
func newLocator(cfg *config.DetectorConfig) (vision.Locator, func()) {
	noop := func() {}

	switch cfg.Driver {
	case "haar":
		haar, err := opencv.NewHaarLocator(opencv.HaarConfig{
			Path:         cfg.HaarPath,
			CLAHE:        cfg.CLAHE,
			ScaleFactor:  cfg.ScaleFactor,
			MinNeighbors: cfg.MinNeighbors,
			MinSize:      cfg.MinSize,
		})
		if err != nil {
			utils.Logger.Warn("haar locator unavailable, detection delegated to classifier", zap.Error(err))
			return nil, noop
		}
		return haar, func() { haar.Close() }
	case "pigo":
		pc := vision.DefaultPigoConfig()
		if cfg.MinSize > 0 {
			pc.MinSize = cfg.MinSize
		}
		if cfg.PigoQuality > 0 {
			pc.Quality = cfg.PigoQuality
		}
		pigo, err := vision.LoadPigoLocator(cfg.PigoPath, pc)
		if err != nil {
			utils.Logger.Warn("pigo locator unavailable, detection delegated to classifier", zap.Error(err))
			return nil, noop
		}
		return pigo, noop
	default:
		return nil, noop
	}
}
