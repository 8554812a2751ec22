package main

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	tests := []struct {
		name    string
		scoped  string
		generic string
		want    zerolog.Level
	}{
		{"default", "", "", zerolog.InfoLevel},
		{"generic", "", "warn", zerolog.WarnLevel},
		{"scoped wins", "trace", "error", zerolog.TraceLevel},
		{"unknown", "loud", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CTXRESOLVE_LOG_LEVEL", tt.scoped)
			t.Setenv("LOG_LEVEL", tt.generic)

			setupLogging()

			if got := zerolog.GlobalLevel(); got != tt.want {
				t.Errorf("level = %v, want %v", got, tt.want)
			}
		})
	}
}
