package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("unexpected poll interval %v", cfg.PollInterval)
	}
	if cfg.InitialSize != 16 || cfg.MaxCredits != 10 || cfg.CreditRegenSeconds != 600 {
		t.Fatalf("unexpected canvas defaults: %+v", cfg)
	}
	if cfg.EventsLimit != 100 {
		t.Fatalf("unexpected events limit %d", cfg.EventsLimit)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{name: "empty listen", key: "server.listen", value: ""},
		{name: "empty database path", key: "database.path", value: ""},
		{name: "zero poll interval", key: "watcher.poll_interval_ms", value: 0},
		{name: "zero events limit", key: "watcher.events_limit", value: 0},
		{name: "size not power of two", key: "canvas.initial_size", value: 12},
		{name: "zero size", key: "canvas.initial_size", value: 0},
		{name: "zero credits", key: "canvas.max_credits", value: 0},
		{name: "zero regen", key: "canvas.credit_regen_seconds", value: 0},
		{name: "empty resolver", key: "resolver.endpoint", value: ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			v := NewViper()
			v.Set(test.key, test.value)
			if _, err := Load(v); err == nil {
				t.Fatalf("expected validation error for %s=%v", test.key, test.value)
			}
		})
	}
}

func TestLoadAcceptsPowerOfTwoSizes(t *testing.T) {
	for _, size := range []int{1, 2, 16, 64, 1024} {
		v := NewViper()
		v.Set("canvas.initial_size", size)
		cfg, err := Load(v)
		if err != nil {
			t.Fatalf("unexpected error for size %d: %v", size, err)
		}
		if cfg.InitialSize != size {
			t.Fatalf("expected size %d, got %d", size, cfg.InitialSize)
		}
	}
}
