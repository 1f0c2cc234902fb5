package loggerfx

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ConfigLogLevel      = "log.level"
	ConfigLogFormat     = "log.format"
	ConfigLogFile       = "log.file"
	ConfigLogMaxSize    = "log.max_size_mb"
	ConfigLogMaxBackups = "log.max_backups"
	ConfigLogMaxAge     = "log.max_age_days"
	ConfigLogCompress   = "log.compress"
)

var logger *logrus.Logger

func init() {
	logger = logrus.StandardLogger()
	logger.SetFormatter(&logrus.JSONFormatter{})
}

func Logger() *logrus.Logger {
	return logger
}

// DefaultLoggerAdapter routes the standard library logger (http.Server errors) to logrus.
func DefaultLoggerAdapter(logger *logrus.Logger) *log.Logger {
	return log.New(logger.WriterLevel(logrus.ErrorLevel), "", 0)
}

// LogFile is the rotating log file, nil unless log.file is set.
func LogFile(v *viper.Viper) *lumberjack.Logger {
	file := v.GetString(ConfigLogFile)
	if file == "" {
		return nil
	}

	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    v.GetInt(ConfigLogMaxSize),
		MaxBackups: v.GetInt(ConfigLogMaxBackups),
		MaxAge:     v.GetInt(ConfigLogMaxAge),
		Compress:   v.GetBool(ConfigLogCompress),
	}
}

func CloseLogFile(lc fx.Lifecycle, logger *logrus.Logger, file *lumberjack.Logger) {
	if file == nil {
		return
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.SetOutput(os.Stderr)
			return file.Close()
		},
	})
}

func ConfigureLogger(logger *logrus.Logger, v *viper.Viper, file *lumberjack.Logger) {
	logLevel := v.GetString(ConfigLogLevel)
	logFormat := v.GetString(ConfigLogFormat)

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)

	switch logFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		fallthrough
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	if file != nil {
		logger.SetOutput(io.MultiWriter(os.Stderr, file))
	}
}
