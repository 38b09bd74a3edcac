package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/danieldreier/langdrill/internal/generator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the command line and environment configuration
type Config struct {
	FilePath  string
	Store     string
	Transport string
	Addr      string
	BaseURL   string
	SpeechCmd string
	LogLevel  string
	Generator generator.Config
}

// parseConfig reads flags from args and the generator settings from getenv.
// Every rejected configuration is described on output.
func parseConfig(args []string, getenv func(string) string, output io.Writer) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("langdrill", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.FilePath, "file", "./langdrill.json", "Path to the data file (JSON store) or database (sqlite store)")
	fs.StringVar(&cfg.Store, "store", "file", "Storage backend: file or sqlite")
	fs.StringVar(&cfg.Transport, "transport", "stdio", "MCP transport: stdio or sse")
	fs.StringVar(&cfg.Addr, "addr", ":8080", "Listen address for the sse transport")
	fs.StringVar(&cfg.BaseURL, "base-url", "", "Public base URL for the sse transport (default http://localhost<addr>)")
	fs.StringVar(&cfg.SpeechCmd, "speech-cmd", "espeak-ng", "Speech synthesis program")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// Validation errors are reported like flag errors: message, then usage
	invalid := func(err error) (Config, error) {
		fmt.Fprintln(output, err)
		fs.Usage()
		return Config{}, err
	}
	switch cfg.Store {
	case "file", "sqlite":
	default:
		return invalid(fmt.Errorf("unknown store %q", cfg.Store))
	}
	switch cfg.Transport {
	case "stdio", "sse":
	default:
		return invalid(fmt.Errorf("unknown transport %q", cfg.Transport))
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost" + cfg.Addr
	}

	cfg.Generator = generator.Config{
		APIKey:  getenv("DEEPSEEK_API_KEY"),
		BaseURL: getenv("DEEPSEEK_BASE_URL"),
		Model:   getenv("DEEPSEEK_MODEL"),
	}
	return cfg, nil
}

// newLogger builds the development logger. Output goes to stderr so that
// it never mixes with the stdio transport.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.OutputPaths = []string{"stderr"}
	logConfig.ErrorOutputPaths = []string{"stderr"}
	return logConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}
