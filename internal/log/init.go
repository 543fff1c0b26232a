package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/flowprobe/fprobe/internal/config"
)

// Init builds the process-wide Logger from a LogConfig: a logrus.Logger
// writing to stdout plus any enabled file/Loki outputs, formatted as JSON
// or as human-readable ANSI-colored text (via
// github.com/x-cray/logrus-prefixed-formatter, which pulls in
// github.com/mgutz/ansi for the color codes) depending on cfg.Format.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	mw := NewMultiWriter().Add(os.Stdout)

	var closers []io.Closer
	if cfg.Outputs.File.Enabled {
		fw, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return err
		}
		mw.Add(fw)
		closers = append(closers, fw)
	}

	if cfg.Outputs.Loki.Enabled {
		if cfg.Outputs.Loki.Endpoint == "" {
			return fmt.Errorf("loki output requires 'endpoint' field")
		}
		lw, err := NewLokiWriter(LokiConfig{
			Endpoint:      cfg.Outputs.Loki.Endpoint,
			Labels:        cfg.Outputs.Loki.Labels,
			BatchSize:     cfg.Outputs.Loki.BatchSize,
			FlushInterval: cfg.Outputs.Loki.FlushInterval,
		})
		if err != nil {
			return fmt.Errorf("failed to create loki writer: %w", err)
		}
		mw.Add(lw)
		closers = append(closers, lw)
	}

	l := logrus.New()
	l.SetOutput(mw)
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		l.SetFormatter(&prefixed.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
	default:
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	setLogger(&logrusAdapter{entry: logrus.NewEntry(l)}, closers...)
	return nil
}

// createFileWriter builds a rotating file writer for the given output
// config, using the kept appender_file.go lumberjack wiring.
func createFileWriter(cfg config.FileOutputConfig) (io.WriteCloser, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return newFileAppender(FileAppenderOpt{
		Filename:   cfg.Path,
		MaxSize:    cfg.Rotation.MaxSizeMB,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAgeDays,
		Compress:   cfg.Rotation.Compress,
	}), nil
}

func parseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown level: %s", s)
	}
}
