package server

import (
	"testing"

	"github.com/consultdeck/deckgen/config"
)

func TestNewEchoDebugFlag(t *testing.T) {
	cfg := &config.Config{}
	cfg.General.LogLevel = "info"
	if e := newEcho(cfg); e.Debug {
		t.Fatalf("expected debug off by default")
	}

	cfg.General.Debug = true
	if e := newEcho(cfg); !e.Debug {
		t.Fatalf("general.debug should enable echo debug mode")
	}

	cfg.General.Debug = false
	cfg.General.LogLevel = "debug"
	if e := newEcho(cfg); !e.Debug {
		t.Fatalf("log_level=debug should enable echo debug mode")
	}
}
