package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 全局日志，InitLogger 之前为 Nop
var Logger = zap.NewNop()

// InitLogger release 输出 JSON，test 不输出，其他为彩色控制台；fields 附加到每条日志
func InitLogger(mode string, fields ...zap.Field) error {
	if mode == "test" {
		Logger = zap.NewNop()
		return nil
	}

	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := config.Build(zap.Fields(fields...))
	if err != nil {
		return err
	}

	Logger = logger.Named("moodlens")
	return nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}
