package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/mnemo/internal/config"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/felixgeelhaar/mnemo/internal/runtime"
	"github.com/m-mizutani/gt"
)

// execute runs the root command. Flags are package globals, so every call
// passes the ones it depends on.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	RootCmd.SetOut(&buf)
	RootCmd.SetErr(&buf)
	RootCmd.SetArgs(args)
	err := RootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	gt.NoError(t, err).Required()
	return out
}

func TestCLI_Root(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range RootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"add", "search", "recent", "top", "stats", "import", "config"} {
		gt.Bool(t, names[want]).True()
	}
}

func TestCLI_AddAndSearch(t *testing.T) {
	dir := t.TempDir()

	out := mustExecute(t, "add", "--config=", "--data", dir, "--type", "mid", "--category=", "finished", "the", "project", "review")
	gt.String(t, out).Contains("Added mid memory: finished the project review")

	mustExecute(t, "add", "--config=", "--data", dir, "--type", "short", "--category", "family", "dinner with parents")

	out = mustExecute(t, "search", "--config=", "--data", dir, "--max", "5", "project")
	gt.String(t, out).Contains("[mid/work]  finished the project review")
	gt.Bool(t, strings.Contains(out, "dinner")).False()

	out = mustExecute(t, "search", "--config=", "--data", dir, "--max", "5", "nothing-matches-this")
	gt.String(t, out).Contains("No memories found")

	out = mustExecute(t, "recent", "--config=", "--data", dir, "--limit", "10")
	gt.String(t, out).Contains("[short/family]  dinner with parents")
}

func TestCLI_AddRejectsUnknownType(t *testing.T) {
	_, err := execute(t, "add", "--config=", "--data", t.TempDir(), "--type", "forever", "--category=", "x")
	gt.Error(t, err).Is(memory.ErrInvalidInput)
}

func TestCLI_Stats(t *testing.T) {
	dir := t.TempDir()
	mustExecute(t, "add", "--config=", "--data", dir, "--type", "long", "--category=", "a happy day")

	out := mustExecute(t, "stats", "--config=", "--data", dir)

	var stats struct {
		TotalMemories int  `json:"total_memories"`
		Running       bool `json:"running"`
	}
	gt.NoError(t, json.Unmarshal([]byte(out), &stats)).Required()
	gt.Value(t, stats.TotalMemories).Equal(1)
	gt.Bool(t, stats.Running).True()
}

func TestCLI_Import(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in")
	gt.NoError(t, os.MkdirAll(filepath.Join(src, "nested"), 0750)).Required()

	now := time.Now()
	write := func(path string, items ...memory.Item) {
		var sb strings.Builder
		for _, item := range items {
			sb.WriteString(memory.EncodeLine(item))
		}
		sb.WriteString("not a record\n")
		gt.NoError(t, os.WriteFile(path, []byte(sb.String()), 0600)).Required()
	}
	item := func(content string, typ memory.Type) memory.Item {
		i, err := memory.NewItem(content, typ, memory.Friendship, now)
		gt.NoError(t, err).Required()
		return i
	}
	write(filepath.Join(src, "short.mem"), item("met a friend", memory.Short), item("went to a party", memory.Short))
	write(filepath.Join(src, "nested", "long.mem"), item("first job", memory.Long))

	out := mustExecute(t, "import", "--config=", "--data", filepath.Join(dir, "store"), "--type=", filepath.Join(src, "**", "*.mem"))
	gt.String(t, out).Contains("Imported 3 memories from 2 file(s)")

	out = mustExecute(t, "recent", "--config=", "--data", filepath.Join(dir, "store"), "--limit", "10")
	gt.String(t, out).Contains("[long/friendship]  first job")
	gt.String(t, out).Contains("[short/friendship]  went to a party")
}

func TestCLI_ImportNoMatches(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "import", "--config=", "--data", dir, "--type=", filepath.Join(dir, "*.mem"))
	gt.Value(t, err).NotNil()
}

func TestCLI_ConfigShow(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "mnemo.yaml")
	gt.NoError(t, os.WriteFile(cfgPath, []byte("sink: sqlite\nbatch_size: 25\n"), 0600)).Required()

	out := mustExecute(t, "config", "show", "--config", cfgPath, "--data", dir)
	gt.String(t, out).Contains("data_dir: " + dir)
	gt.String(t, out).Contains("sink: sqlite")
	gt.String(t, out).Contains("batch_size: 25")
}

func TestCLI_ConfigRules(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	gt.NoError(t, os.WriteFile(good, []byte("rules:\n  - category: work\n    keywords: [deadline, \"meet*\"]\n"), 0600)).Required()
	bad := filepath.Join(dir, "bad.yaml")
	gt.NoError(t, os.WriteFile(bad, []byte("rules:\n  - category: work\n    keywords: []\n"), 0600)).Required()

	out := mustExecute(t, "config", "rules", "--config=", good)
	gt.String(t, out).Contains("1 rule(s) OK")

	out, err := execute(t, "config", "rules", "--config=", bad)
	gt.Value(t, err).NotNil()
	gt.String(t, out).Contains("error:")
}

func TestRunner(t *testing.T) {
	cfg := config.Default
	cfg.DataDir = t.TempDir()
	cfg.Sink = "sqlite"
	cfg.WriteBehind = false
	cfg.Search.Backend = "hnsw"

	r := NewRunner(observe.Discard(), cfg)
	err := r.Run(context.Background(), func(ctx context.Context, rt *runtime.Runtime) error {
		return rt.AddMemory(ctx, "project deadline moved", memory.Long, memory.Other)
	})
	gt.NoError(t, err).Required()

	// A second run reloads from the SQLite sink and reindexes.
	err = r.Run(context.Background(), func(ctx context.Context, rt *runtime.Runtime) error {
		items := rt.RecentMemories(5)
		gt.Array(t, items).Length(1)
		gt.Value(t, items[0].Category).Equal(memory.Work)
		gt.Array(t, rt.SearchMemories(ctx, "project deadline moved", 5)).Length(1)
		return nil
	})
	gt.NoError(t, err)
}

func TestRunner_UnknownBackend(t *testing.T) {
	cfg := config.Default
	cfg.DataDir = t.TempDir()
	cfg.Search.Backend = "faiss"

	err := NewRunner(observe.Discard(), cfg).Run(context.Background(), func(context.Context, *runtime.Runtime) error {
		return nil
	})
	gt.Error(t, err).Is(memory.ErrInvalidInput)
}
