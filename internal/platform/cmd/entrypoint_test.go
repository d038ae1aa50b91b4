package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

func TestParseConfigReadsPrefixedEnv(t *testing.T) {
	t.Setenv("SPORTCHEF_CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("CMD_TEST_MODE", "unprefixed-mode")

	cfg := testConfig{}
	if err := ParseConfig(&cfg); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	if cfg.Address != "env:9000" {
		t.Fatalf("expected env value for address, got %q", cfg.Address)
	}
	if cfg.Mode != "server" {
		t.Fatalf("expected default mode, got %q", cfg.Mode)
	}
}

func TestParseConfigRejectsNilTarget(t *testing.T) {
	if err := ParseConfig[testConfig](nil); err == nil {
		t.Fatal("expected parse config to reject nil target")
	}
}

func TestRunWithTelemetryRejectsMissingInputs(t *testing.T) {
	options := RunOptions{Logger: zerolog.Nop()}
	if err := RunWithTelemetry(context.Background(), "", options, func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected missing service error")
	}
	if err := RunWithTelemetry(context.Background(), ServiceSportChef, options, nil); err == nil {
		t.Fatal("expected missing run function error")
	}
}

func TestRunWithTelemetryReturnsRunError(t *testing.T) {
	want := errors.New("boom")
	err := RunWithTelemetry(context.Background(), ServiceSportChef, RunOptions{Logger: zerolog.Nop()}, func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected run error, got %v", err)
	}
}
