// Package model defines the core data structures for aura.
package model

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Syslog severity levels as reported in a message's level field.
const (
	LevelEmergency = 0
	LevelAlert     = 1
	LevelCritical  = 2
	LevelError     = 3
	LevelWarning   = 4
	LevelNotice    = 5
	LevelInfo      = 6
	LevelDebug     = 7
)

// Severity is the class a message's level falls into.
type Severity int

const (
	// SeverityNone covers notice, info, debug and messages without a level.
	SeverityNone Severity = iota
	SeverityWarning
	SeverityError
)

// SeverityNames maps severities to human-readable names.
var SeverityNames = map[Severity]string{
	SeverityNone:    "none",
	SeverityWarning: "warning",
	SeverityError:   "error",
}

func (s Severity) String() string {
	if name, ok := SeverityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ClassifyLevel maps a syslog level to a severity.
// Emergency through error count as errors; warning is its own class.
func ClassifyLevel(level int) Severity {
	switch {
	case level < 0:
		return SeverityNone
	case level < LevelWarning:
		return SeverityError
	case level == LevelWarning:
		return SeverityWarning
	default:
		return SeverityNone
	}
}

// Sample is the result of one poll: message activity over the trailing window.
// It is produced once per loop iteration and discarded after sonification.
type Sample struct {
	ID       string        // ULID correlating the log lines of one tick
	TakenAt  time.Time     // when the query was issued
	Latency  time.Duration // total time spent waiting on the API
	Messages int
	Errors   int
	Warnings int
}

// NewSample creates an empty Sample stamped with a fresh ULID.
func NewSample(takenAt time.Time) (*Sample, error) {
	id, err := ulid.New(ulid.Timestamp(takenAt), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ULID: %w", err)
	}
	return &Sample{
		ID:      id.String(),
		TakenAt: takenAt,
	}, nil
}

// Count returns the number of messages recorded for a severity.
// SeverityNone yields the total message count.
func (s *Sample) Count(sev Severity) int {
	switch sev {
	case SeverityError:
		return s.Errors
	case SeverityWarning:
		return s.Warnings
	default:
		return s.Messages
	}
}

// AddSeverity increments the counter for sev without touching the message total.
func (s *Sample) AddSeverity(sev Severity) {
	switch sev {
	case SeverityError:
		s.Errors++
	case SeverityWarning:
		s.Warnings++
	}
}
