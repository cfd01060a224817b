// Package memory provides in-process implementations of the database stores.
// They back the "memory" session backend and the unit tests of the engine.
package memory

import (
	"context"
	"io"
	"slices"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func init() {
	database.RegisterSessionBackend(config.BackendMemory, func(ctx context.Context, cfg *config.Config) (database.SessionStore, io.Closer, error) {
		return NewSessionStore(), nil, nil
	})
}

func cloneIdentity(id database.StoredIdentity) database.StoredIdentity {
	id.Embedding = slices.Clone(id.Embedding)
	return id
}

func cloneSession(s database.Session) database.Session {
	if s.ExitTime != nil {
		t := *s.ExitTime
		s.ExitTime = &t
	}
	if s.Duration != nil {
		d := *s.Duration
		s.Duration = &d
	}
	s.DetectionConfidence = cloneFloat(s.DetectionConfidence)
	s.ExitDetectionConfidence = cloneFloat(s.ExitDetectionConfidence)
	s.ExitRecognitionConfidence = cloneFloat(s.ExitRecognitionConfidence)
	return s
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
