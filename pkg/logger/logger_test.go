package logger

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewParsesLevel(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  logrus.Level
	}{
		{name: "debug", level: "debug", want: logrus.DebugLevel},
		{name: "warn", level: "warn", want: logrus.WarnLevel},
		{name: "invalid falls back to info", level: "shout", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New("test", Config{Level: tt.level, Format: "text"})
			if l.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", l.GetLevel(), tt.want)
			}
		})
	}
}

func TestWithContextCarriesRequestID(t *testing.T) {
	l := NewDefault("test")
	ctx := WithRequestID(context.Background(), "req-123")

	entry := l.WithContext(ctx)
	if entry.Data["request_id"] != "req-123" {
		t.Errorf("request_id = %v, want req-123", entry.Data["request_id"])
	}
	if entry.Data["component"] != "test" {
		t.Errorf("component = %v, want test", entry.Data["component"])
	}
}
