package main

import (
	"io"
	"testing"

	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

func TestNewServiceValidatesParams(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "outbox-worker-test", Output: io.Discard})
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	cases := []struct {
		name   string
		params ServiceParams
	}{
		{"missing config", ServiceParams{Logger: logg}},
		{"missing logger", ServiceParams{Config: cfg}},
		{"missing db", ServiceParams{Config: cfg, Logger: logg}},
	}
	for _, tc := range cases {
		if _, err := NewService(tc.params); err == nil {
			t.Fatalf("%s: expected constructor error", tc.name)
		}
	}
}
