package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		in   string
		want logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"bogus", logrus.InfoLevel},
	}
	for _, tt := range tests {
		if got := New(tt.in, nil).GetLevel(); got != tt.want {
			t.Errorf("New(%q) level = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestComponentFields(t *testing.T) {
	var buf bytes.Buffer
	log := Component(ForRank(New("info", &buf), 3), "exchange")
	log.Info("pass")
	out := buf.String()
	if !strings.Contains(out, "rank=3") || !strings.Contains(out, "component=exchange") {
		t.Errorf("missing fields in %q", out)
	}
}
