package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// InitLogging 初始化日志：全时间戳文本格式，同时写到stdout和app.log
func InitLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)

	logPath := filepath.Join(".", "app.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		logrus.WithError(err).Warn("failed to open log file, logging to stdout only")
		return
	}
	logrus.SetOutput(io.MultiWriter(os.Stdout, logFile))
}

// UsageStorePath 用量计数文件路径，可用环境变量覆盖
func UsageStorePath() string {
	if p := os.Getenv("SURGIMATOR_USAGE_PATH"); p != "" {
		return p
	}
	return filepath.Join(".", "surgimator_usage.json")
}

// ListenAddr HTTP监听地址
func ListenAddr() string {
	if addr := os.Getenv("SURGIMATOR_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}
