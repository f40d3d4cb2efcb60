package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/voiceover/internal/config"
)

var logFile io.Closer

// setupLog sends log output to a file so it does not garble the monitor.
// VOICEOVER_LOG_FILE overrides the location.
func setupLog() (func() error, error) {
	log.SetReportTimestamp(true)

	path := os.Getenv(config.EnvPrefix + "LOG_FILE")
	if path == "" {
		p, err := gap.NewScope(gap.User, config.AppName).LogPath(config.AppName + ".log")
		if err != nil {
			return nil, fmt.Errorf("could not find log directory: %w", err)
		}
		path = p
	}
	if err := openLog(path); err != nil {
		return nil, err
	}

	if lvl, err := log.ParseLevel(os.Getenv(config.EnvPrefix + "LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	return func() error {
		if logFile == nil {
			return nil
		}
		return logFile.Close()
	}, nil
}

// openLog points the logger at path, closing any previous log file.
func openLog(path string) error {
	path, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("invalid log path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}

	log.SetOutput(f)
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	return nil
}
