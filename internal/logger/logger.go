package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide logger and redirects the standard library
// logger through it.
func New(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	core := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stderr),
		level,
	)

	logger := zap.New(core, zap.AddCaller())

	zap.ReplaceGlobals(logger)
	log.SetOutput(zap.NewStdLog(logger).Writer())

	return logger
}
