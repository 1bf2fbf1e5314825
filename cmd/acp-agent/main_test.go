// ABOUTME: Tests for acp-agent flag parsing, logger construction and token minting
// ABOUTME: Config and data paths are redirected into temp dirs through the environment

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/acp-hive/internal/auth"
	"github.com/2389/acp-hive/internal/config"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    flagValues
		wantErr string
	}{
		{
			name: "space and equals forms",
			args: []string{"--hive", "alice", "--role=builder"},
			want: flagValues{"hive": "alice", "role": "builder"},
		},
		{
			name: "switch",
			args: []string{"--dry-run", "--hive", "alice"},
			want: flagValues{"dry-run": "true", "hive": "alice"},
		},
		{name: "unknown flag", args: []string{"--nope"}, wantErr: "unknown flag"},
		{name: "missing value", args: []string{"--hive"}, wantErr: "requires a value"},
		{name: "positional", args: []string{"alice"}, wantErr: "unexpected argument"},
		{name: "switch with value", args: []string{"--dry-run=yes"}, wantErr: "does not take a value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, []string{"hive", "role"}, "dry-run")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestParseRunOptions(t *testing.T) {
	opts, err := parseRunOptions([]string{"--members", "agent-b, agent-c,", "--steps=5", "--timeout", "2s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts.members) != 2 || opts.members[0] != "agent-b" || opts.members[1] != "agent-c" {
		t.Errorf("members = %v", opts.members)
	}
	if opts.steps != 5 {
		t.Errorf("steps = %d, want 5", opts.steps)
	}
	if opts.timeout != 2*time.Second {
		t.Errorf("timeout = %s, want 2s", opts.timeout)
	}

	opts, err = parseRunOptions(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.steps != defaultSteps || len(opts.members) != 0 {
		t.Errorf("defaults = %+v", opts)
	}

	for _, args := range [][]string{
		{"--steps", "0"},
		{"--steps", "many"},
		{"--timeout", "soon"},
	} {
		if _, err := parseRunOptions(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.With("component", "agent").Warn("step forced", "step", 3)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "step forced" || entry["component"] != "agent" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.With("component", "agent").WithGroup("step").Debug("advanced", "current", 4)

	out := buf.String()
	for _, want := range []string{"DBG", "advanced", "component=", "agent", "step.current=", "4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}

	buf.Reset()
	logger = newLogger(config.LoggingConfig{Level: "error"}, &buf)
	logger.Warn("quiet")
	if buf.Len() != 0 {
		t.Errorf("expected warn to be filtered, got %q", buf.String())
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("expected error level enabled")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("ACP_CONFIG", "/tmp/custom.yaml")
	if got := getConfigPath(); got != "/tmp/custom.yaml" {
		t.Errorf("got %q", got)
	}

	t.Setenv("ACP_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := getConfigPath(); got != filepath.Join("/xdg", "acp", "agent.yaml") {
		t.Errorf("got %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "/data")
	if got := getDataPath(); got != filepath.Join("/data", "acp") {
		t.Errorf("got %q", got)
	}
}

func TestRunToken(t *testing.T) {
	const secret = "operator-secret-for-tests"
	t.Setenv("ACP_OPERATOR_SECRET", secret)

	out := filepath.Join(t.TempDir(), "token")
	if err := runToken([]string{"--hive", "alice", "--role", "builder", "--pid", "agent-a", "--ttl", "1h", "--out", out}); err != nil {
		t.Fatalf("runToken: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading token: %v", err)
	}

	sc, err := auth.NewValidator(secret).Validate(string(data))
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if sc.Namespace != "account.alice.builder" {
		t.Errorf("namespace = %q", sc.Namespace)
	}
	if sc.PID != "agent-a" {
		t.Errorf("pid = %q", sc.PID)
	}

	if err := runToken([]string{"--hive", "alice"}); err == nil {
		t.Error("expected error without --role")
	}
	if err := runToken([]string{"--hive", "alice", "--role", "builder", "--ttl", "-1h"}); err == nil {
		t.Error("expected error for negative ttl")
	}
}

func TestOperatorSecret_FromConfig(t *testing.T) {
	t.Setenv("ACP_OPERATOR_SECRET", "")

	path := filepath.Join(t.TempDir(), "agent.yaml")
	content := `
agent:
  id: "agent-a"
  namespace: "account.alice.builder"
broker:
  url: "mem://cli-tests"
auth:
  operator_secret: "from-config"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("ACP_CONFIG", path)

	got, err := operatorSecret()
	if err != nil {
		t.Fatalf("operatorSecret: %v", err)
	}
	if got != "from-config" {
		t.Errorf("got %q", got)
	}
}
