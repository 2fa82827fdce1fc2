package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/keith/internal/config"
	"github.com/zulandar/keith/internal/models"
)

// seedJournal writes a config with a journal and records turns into it.
func seedJournal(t *testing.T, turns ...models.Turn) string {
	t.Helper()
	path := writeConfig(t, journalConfig(t))
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	j, closeDB, err := openJournal(cfg)
	if err != nil {
		t.Fatalf("openJournal: %v", err)
	}
	defer closeDB()
	for i := range turns {
		if err := j.Record(context.Background(), &turns[i]); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	return path
}

func sampleTurns() []models.Turn {
	now := time.Now()
	return []models.Turn{
		{Kind: models.TurnAssistant, Platform: "discord", ChannelID: "C1", UserName: "alice", Prompt: "what is\nthe time", Reply: "noon", Outcome: "replied", DurationMs: 1500, CreatedAt: now.Add(-3 * time.Minute)},
		{Kind: models.TurnOverride, Platform: "discord", ChannelID: "C2", UserID: "42", Reply: "hello from the operator", Outcome: "delivered", CreatedAt: now.Add(-2 * time.Minute)},
		{Kind: models.TurnAssistant, Platform: "discord", ChannelID: "C1", UserName: "bob", Prompt: "tell me a joke", Outcome: "timed_out", CreatedAt: now.Add(-time.Minute)},
	}
}

func TestTurnsCmd_Table(t *testing.T) {
	path := seedJournal(t, sampleTurns()...)
	out, err := runCmd(t, "turns", "-c", path)
	if err != nil {
		t.Fatalf("turns failed: %v\n%s", err, out)
	}
	for _, want := range []string{"TIME", "OUTCOME", "alice", "what is the time", "hello from the operator", "timed_out", "1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Index(out, "bob") > strings.Index(out, "alice") {
		t.Errorf("expected newest turn first, got:\n%s", out)
	}
}

func TestTurnsCmd_Filters(t *testing.T) {
	path := seedJournal(t, sampleTurns()...)

	out, err := runCmd(t, "turns", "-c", path, "--channel", "C2")
	if err != nil {
		t.Fatalf("turns failed: %v", err)
	}
	if strings.Contains(out, "alice") || !strings.Contains(out, "operator") {
		t.Errorf("--channel C2 output wrong:\n%s", out)
	}

	out, err = runCmd(t, "turns", "-c", path, "--kind", "assistant", "--limit", "1")
	if err != nil {
		t.Fatalf("turns failed: %v", err)
	}
	if !strings.Contains(out, "bob") || strings.Contains(out, "alice") {
		t.Errorf("--kind assistant --limit 1 output wrong:\n%s", out)
	}
}

func TestTurnsCmd_JSON(t *testing.T) {
	path := seedJournal(t, sampleTurns()...)
	out, err := runCmd(t, "turns", "-c", path, "--json")
	if err != nil {
		t.Fatalf("turns failed: %v", err)
	}
	var got []models.Turn
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(got) != 3 {
		t.Fatalf("got %d turns, want 3", len(got))
	}
	if got[0].UserName != "bob" {
		t.Errorf("first turn user = %q, want bob", got[0].UserName)
	}
}

func TestTurnsCmd_Empty(t *testing.T) {
	out, err := runCmd(t, "turns", "-c", seedJournal(t))
	if err != nil {
		t.Fatalf("turns failed: %v", err)
	}
	if !strings.Contains(out, "No turns found.") {
		t.Errorf("expected empty message, got:\n%s", out)
	}
}

func TestTurnsCmd_Since(t *testing.T) {
	path := seedJournal(t, sampleTurns()...)
	out, err := runCmd(t, "turns", "-c", path, "--since", "1h")
	if err != nil {
		t.Fatalf("turns failed: %v", err)
	}
	for _, want := range []string{"OUTCOME", "delivered", "replied", "timed_out", "total"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestTurnsCmd_Errors(t *testing.T) {
	if _, err := runCmd(t, "turns", "-c", writeConfig(t, "")); err == nil || !strings.Contains(err.Error(), "journal is disabled") {
		t.Errorf("disabled journal: err = %v", err)
	}
	if _, err := runCmd(t, "turns", "-c", seedJournal(t), "--kind", "bogus"); err == nil || !strings.Contains(err.Error(), "unknown turn kind") {
		t.Errorf("bad kind: err = %v", err)
	}
}

func TestOneLine(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"a\n b\tc", 10, "a b c"},
		{"abcdefghij", 8, "abcde..."},
		{"héllo wörld", 8, "héllo..."},
	}
	for _, tt := range tests {
		if got := oneLine(tt.in, tt.n); got != tt.want {
			t.Errorf("oneLine(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
