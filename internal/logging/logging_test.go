package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantLevel logrus.Level
		wantErr   bool
	}{
		{"defaults", config.LogConfig{}, logrus.InfoLevel, false},
		{"debug text", config.LogConfig{Level: "debug", Format: "text"}, logrus.DebugLevel, false},
		{"warn json", config.LogConfig{Level: "warn", Format: "JSON"}, logrus.WarnLevel, false},
		{"bad level", config.LogConfig{Level: "loud"}, 0, true},
		{"bad format", config.LogConfig{Format: "xml"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg, &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if logger.GetLevel() != tt.wantLevel {
				t.Errorf("level = %v, want %v", logger.GetLevel(), tt.wantLevel)
			}
		})
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.WithField("person_id", "001").Info("entry recorded")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["person_id"] != "001" || entry["msg"] != "entry recorded" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
