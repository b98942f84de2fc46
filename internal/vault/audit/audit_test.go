package audit_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/quollsec/strongbox/internal/vault/audit"
	"github.com/stretchr/testify/require"
)

func TestFileSinkAppendsJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	sink, err := audit.NewFileSink(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Append(ctx, "alice", "login", map[string]any{"ok": true}))
	require.NoError(t, sink.Append(ctx, "alice", "elevate", nil))
	require.NoError(t, sink.Append(ctx, "alice", "download", map[string]any{"object_id": "o1"}))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []audit.Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev audit.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 3)
	require.Equal(t, "login", events[0].Action)
	require.Equal(t, "elevate", events[1].Action)
	require.Equal(t, "download", events[2].Action)

	// Timestamps are non-decreasing in write order.
	for i := 1; i < len(events); i++ {
		require.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}

func TestFileSinkAppendsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")

	sink, err := audit.NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), "a", "one", nil))
	require.NoError(t, sink.Close())

	// Reopening must append, never truncate.
	sink, err = audit.NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), "a", "two", nil))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"one"`)
	require.Contains(t, string(data), `"two"`)
}

func TestMemorySinkOrdering(t *testing.T) {
	t.Parallel()

	sink := audit.NewMemorySink()
	ctx := context.Background()

	for _, action := range []string{"login", "challenge_issued", "elevate"} {
		require.NoError(t, sink.Append(ctx, "bob", action, nil))
	}

	require.Equal(t, []string{"login", "challenge_issued", "elevate"}, sink.Actions())

	events := sink.Events()
	for i := 1; i < len(events); i++ {
		require.False(t, events[i].Timestamp.Before(events[i-1].Timestamp))
	}
}
