package logger

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/hashicorp/logutils"
)

// Levels are the log levels, lowest first.
// A line carries its level as a "[LEVEL]" prefix, e.g.
//
//	logger.Printf("[ERROR] golog: %v", err)
var Levels = []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"}

// New creates a logger writing to w the lines at or above level
func New(w io.Writer, level string) (*log.Logger, error) {
	filter, err := NewFilter(w, level)
	if err != nil {
		return nil, err
	}

	return log.New(filter, "", log.LstdFlags), nil
}

// NewFilter creates the level filter behind New.
// It can be passed to log.SetOutput for the standard logger.
func NewFilter(w io.Writer, level string) (*logutils.LevelFilter, error) {
	min := logutils.LogLevel(strings.ToUpper(level))
	if !validLevel(min) {
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	return &logutils.LevelFilter{
		Levels:   Levels,
		MinLevel: min,
		Writer:   w,
	}, nil
}

func validLevel(level logutils.LogLevel) bool {
	for _, l := range Levels {
		if l == level {
			return true
		}
	}
	return false
}
