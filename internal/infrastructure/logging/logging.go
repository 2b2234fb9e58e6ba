package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup 统一日志格式：JSON 输出到 stdout，级别解析失败时退回 info
func Setup(level string) {
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("log_level", level).Warn("日志级别不合法，使用 info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
