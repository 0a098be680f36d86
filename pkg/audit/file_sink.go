// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Kalypss/PortFolio/pkg/metrics"
)

// FileSinkConfig configures a FileSink.
type FileSinkConfig struct {
	// Path is the log file. Rotated files are written next to it.
	Path string `yaml:"path"`

	// MaxSizeMB is the size at which the file is rotated.
	// Default: 20
	MaxSizeMB int `yaml:"maxSizeMB"`

	// MaxBackups is the number of rotated files kept.
	// Default: 5
	MaxBackups int `yaml:"maxBackups"`

	// MaxAgeDays removes rotated files older than this many days.
	// Default: 14
	MaxAgeDays int `yaml:"maxAgeDays"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// FileSink appends events as JSON lines to a size-rotated file.
type FileSink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	closed bool
}

// NewFileSink creates a FileSink. The file is opened lazily on first write.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 20
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}
	return &FileSink{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

// Write appends the event as one JSON line.
func (s *FileSink) Write(_ context.Context, event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		metrics.SecuritySinkErrors.WithLabelValues(s.Name(), "serialization").Inc()
		return fmt.Errorf("failed to marshal security event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("file sink is closed")
	}
	if _, err := s.writer.Write(line); err != nil {
		metrics.SecuritySinkErrors.WithLabelValues(s.Name(), "write").Inc()
		return fmt.Errorf("failed to write security event: %w", err)
	}
	return nil
}

// Rotate forces a rotation of the current file.
func (s *FileSink) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Rotate()
}

// Close closes the current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}

// Name returns the sink identifier.
func (s *FileSink) Name() string {
	return "file"
}
