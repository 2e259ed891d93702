package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the JSON logger. When LOG_FILE is set the output is also
// appended to that file, the returned closer releases it.
func (c *Configuration) NewLogger() (*slog.Logger, func() error, error) {
	var out io.Writer = os.Stdout
	closer := func() error { return nil }

	if c.Server.LogFile != "" {
		f, err := os.OpenFile(c.Server.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file for writing: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f.Close
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLevel(c.Server.LogLevel),
	}))
	return logger, closer, nil
}
