package convlog

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterWritesPerUserNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWriter(Config{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    filepath.Join(dir, "all", "all.ndjson"),
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	w.Log(Event{UserID: "5511999999999", Direction: DirectionInbound, State: "AGUARDANDO_OPCAO", Text: "1"})
	w.Log(Event{UserID: "5511999999999", Direction: DirectionOutbound, Template: "vendedor_zapito", Params: []string{"Maria", "Ana", "https://wa.me/1"}})
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "5511999999999.ndjson"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var got Event
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Template != "vendedor_zapito" || len(got.Params) != 3 {
		t.Fatalf("unexpected event: %+v", got)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be populated")
	}

	if global := readLines(t, filepath.Join(dir, "all", "all.ndjson")); len(global) != 2 {
		t.Fatalf("expected 2 global lines, got %d", len(global))
	}
}

func TestWriterLogAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWriter(Config{Enabled: true, Dir: dir}, nil)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	_ = w.Close()
	_ = w.Close()
	w.Log(Event{UserID: "late"})

	if _, err := os.Stat(filepath.Join(dir, "late.ndjson")); !os.IsNotExist(err) {
		t.Fatalf("expected no file after close, got err=%v", err)
	}
}

func TestNewDisabledReturnsNoop(t *testing.T) {
	t.Parallel()

	l, err := New(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := l.(Noop); !ok {
		t.Fatalf("expected Noop, got %T", l)
	}
	l.Log(Event{UserID: "x"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestSafeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"5511999999999": "5511999999999",
		"../../etc":     "etc",
		"":              "unknown",
		"a b/c":         "abc",
	}
	for in, want := range cases {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}
