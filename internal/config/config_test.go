package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8787 {
		t.Errorf("expected default port 8787, got %d", cfg.Port)
	}
	if cfg.MaxTurns != 12 || cfg.MaxMessages != 40 || cfg.MaxInputChars != 300000 {
		t.Errorf("unexpected trim defaults: %d %d %d", cfg.MaxTurns, cfg.MaxMessages, cfg.MaxInputChars)
	}
	if cfg.ProbeTimeout() != 150*time.Millisecond {
		t.Errorf("expected 150ms probe timeout, got %v", cfg.ProbeTimeout())
	}
	if cfg.ProbeMaxBytes != 4*1024 {
		t.Errorf("expected 4KiB probe budget, got %d", cfg.ProbeMaxBytes)
	}
	if cfg.MaxBufferedSSEBytes != 8*1024*1024 {
		t.Errorf("expected 8MiB buffer cap, got %d", cfg.MaxBufferedSSEBytes)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("expected 24h session TTL, got %v", cfg.SessionTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RESP_MAX_BUFFERED_SSE_BYTES", "1MiB")
	t.Setenv("RESP_PROBE_MAX_BYTES", "2048")
	t.Setenv("RSP4COPILOT_MAX_TURNS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxBufferedSSEBytes != 1024*1024 {
		t.Errorf("expected 1MiB, got %d", cfg.MaxBufferedSSEBytes)
	}
	if cfg.ProbeMaxBytes != 2048 {
		t.Errorf("expected 2048, got %d", cfg.ProbeMaxBytes)
	}
	if cfg.MaxTurns != 3 {
		t.Errorf("expected 3 turns, got %d", cfg.MaxTurns)
	}
}

func TestLoadRejectsBadSize(t *testing.T) {
	t.Setenv("RESP_MAX_BUFFERED_SSE_BYTES", "lots")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparseable byte size")
	}
}

func TestValidateUpstreams(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"complete", Config{OpenAIAPIKey: "sk-x", OpenAIBaseURL: "https://a.example"}, true},
		{"missing key", Config{OpenAIBaseURL: "https://a.example"}, false},
		{"blank key", Config{OpenAIAPIKey: "  ", OpenAIBaseURL: "https://a.example"}, false},
		{"missing base", Config{OpenAIAPIKey: "sk-x"}, false},
	}
	for _, tc := range cases {
		err := tc.cfg.ValidateUpstreams()
		if (err == nil) != tc.ok {
			t.Errorf("%s: err = %v", tc.name, err)
		}
	}
}

func TestAuthKeysNormalization(t *testing.T) {
	cfg := &Config{
		WorkerAuthKey:     `"Bearer sk-one"`,
		WorkerAuthKeyList: []string{" sk-two ", "'sk-three'", "", "bearer sk-four"},
	}

	got := cfg.AuthKeys()
	want := []string{"sk-one", "sk-two", "sk-three", "sk-four"}
	if len(got) != len(want) {
		t.Fatalf("expected %d keys, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("key %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestOpenAIBases(t *testing.T) {
	cfg := &Config{OpenAIBaseURL: "https://a.example/v1, https://b.example ,"}
	bases := cfg.OpenAIBases()
	if len(bases) != 2 || bases[0] != "https://a.example/v1" || bases[1] != "https://b.example" {
		t.Errorf("unexpected bases: %v", bases)
	}
}

func TestDebugToggle(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "On"} {
		cfg := &Config{Debug: v}
		if !cfg.DebugEnabled() {
			t.Errorf("expected %q to enable debug", v)
		}
	}
	for _, v := range []string{"", "0", "false", "off", "nope"} {
		cfg := &Config{Debug: v}
		if cfg.DebugEnabled() {
			t.Errorf("expected %q to keep debug off", v)
		}
	}
}
