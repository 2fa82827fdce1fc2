// Package logging routes the standard logger to stderr and an optional
// rotating log file.
package logging

import (
	"io"
	"log"

	"github.com/zulandar/keith/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Writer builds the log destination for cfg. With Quiet set and a file
// configured, logs go to the file only so the terminal stays free for the
// operator prompt. The returned Closer flushes and closes the file.
func Writer(cfg config.LogConfig, stderr io.Writer) (io.Writer, io.Closer) {
	if cfg.File == "" {
		return stderr, nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // megabytes
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	if cfg.Quiet {
		return lj, lj
	}
	return io.MultiWriter(stderr, lj), lj
}

// Setup points the standard logger at Writer(cfg, stderr).
func Setup(cfg config.LogConfig, stderr io.Writer) io.Closer {
	w, c := Writer(cfg, stderr)
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return c
}
