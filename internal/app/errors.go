package app

import (
	"errors"
	"fmt"
	"strings"
)

var ErrRunInProgress = errors.New("reminder run already in progress")

// ConfigError aborts a whole reminder run: required settings are missing.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("reminder settings missing: %s", strings.Join(e.Missing, ", "))
}

// PersistenceError is returned when the notification store could not be written or read.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("notification store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
