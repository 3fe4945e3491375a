package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gridclaim/internal/config"
)

var output io.Writer = os.Stdout

// Init configures the global zerolog logger. When cfg.File is set, log
// lines also feed Writer() so the HTTP request logger shares the sink.
func Init(cfg config.LogConfig) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level))); err == nil && cfg.Level != "" {
		level = parsed
	}

	output = os.Stdout
	if cfg.File != "" {
		if w, err := newCappedFileWriter(cfg.File, cfg.MaxMB); err == nil {
			output = io.MultiWriter(os.Stdout, w)
		}
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).With().Timestamp().Logger()
	if cfg.SampleEvery > 1 {
		logger = logger.Sample(&zerolog.BasicSampler{N: uint32(cfg.SampleEvery)})
	}
	log.Logger = logger
}

// Writer returns the sink Init configured, for handlers that log outside
// zerolog (the chi request logger).
func Writer() io.Writer {
	return output
}
