// Package log provides the event daemon's logging setup: a zerolog backend
// wrapped behind the kratos log.Logger/log.Helper interfaces, plus caller,
// banner and rotation support reused from the daemon's service scaffolding.
package log

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/rs/zerolog"
)

// InitLogger wires the process-wide Logger/LHelper pair. name/host/version
// identify the daemon instance in every emitted record. showBanner controls
// whether the startup banner is printed to stdout. consoleFormat/consoleColor
// come from the [daemon] console_format/console_color options and select
// between a colored pretty writer and raw JSON; the "text" writer passes
// the JSON records through unformatted.
func InitLogger(name string, host string, version string, showBanner bool, consoleFormat string, consoleColor bool) error {
	output := NewConsoleWriter(ConsoleWriterConfig{
		Format:      consoleFormat,
		ColorOutput: consoleColor,
		NoColor:     !consoleColor,
		TimeFormat:  time.RFC3339Nano,
	})

	zeroLogger := zerolog.New(output).With().Timestamp().Logger()

	logger := log.With(
		zeroLogLogger{zeroLogger},
		"caller", Caller(5),
		"service.id", host,
		"service.name", name,
		"service.version", version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)
	if logger == nil {
		return fmt.Errorf("failed to create logger")
	}

	helper := log.NewHelper(logger)
	if helper == nil {
		return fmt.Errorf("failed to create logger helper")
	}

	Logger = logger
	LHelper = *helper

	if showBanner {
		if err := initBanner(); err != nil {
			helper.Warnf("failed to display banner: %v", err)
		}
	}

	helper.Info("event daemon logging initialized")

	return nil
}

// Caller returns a Valuer that returns a pkg/file:line description of the caller.
func Caller(depth int) log.Valuer {
	return func(context.Context) any {
		_, file, line, _ := runtime.Caller(depth)
		return trimFilePath(file, 3) + ":" + strconv.Itoa(line)
	}
}

func trimFilePath(file string, depth int) string {
	// 记录斜杠位置
	var slashPos []int
	for i := len(file) - 1; i >= 0; i-- {
		if file[i] == '/' {
			slashPos = append(slashPos, i)
			if len(slashPos) == depth {
				break
			}
		}
	}
	if len(slashPos) == 0 {
		return file // 没有斜杠，直接返回文件名
	}
	// 从最后第 depth 个 / 开始截取
	start := slashPos[len(slashPos)-1] + 1
	return file[start:]
}

type zeroLogLogger struct {
	logger zerolog.Logger
}

func (l zeroLogLogger) Log(level log.Level, keyvals ...interface{}) error {
	var event *zerolog.Event

	// 根据日志等级创建对应的 event
	switch level {
	case log.LevelDebug:
		event = l.logger.Debug()
	case log.LevelInfo:
		event = l.logger.Info()
	case log.LevelWarn:
		event = l.logger.Warn()
	case log.LevelError:
		event = l.logger.Error()
	case log.LevelFatal:
		event = l.logger.Fatal()
	default:
		event = l.logger.Info()
	}

	// 加 key-value 字段
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			key, ok := keyvals[i].(string)
			if !ok {
				key = fmt.Sprintf("BAD_KEY_%d", i)
			}
			event = event.Interface(key, keyvals[i+1])
		}
	}

	event.Msg("") // 最终输出
	return nil
}
