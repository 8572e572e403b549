package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/internal/accounts"
	"github.com/tallyhq/tally/internal/tracker"
)

// run executes tallyctl with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// memoryBackend swaps openBackend for an in-memory store holding one user.
func memoryBackend(t *testing.T, username string) (*backend, int64) {
	t.Helper()
	users := accounts.NewMemoryStore()
	u := &accounts.User{Username: username, PasswordHash: "x"}
	require.NoError(t, users.Create(context.Background(), u))

	b := &backend{
		users:   users,
		tracker: tracker.NewService(tracker.NewMemoryStore()),
		close:   func() error { return nil },
	}
	orig := openBackend
	openBackend = func(context.Context) (*backend, error) { return b, nil }
	t.Cleanup(func() { openBackend = orig })
	return b, u.ID
}

func TestGenSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secret")

	out, err := run(t, "gen-secret", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Secret key written to:")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(string(data))
	require.NoError(t, err)
	assert.Len(t, raw, secretBytes)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestGenSecret_RejectsArgs(t *testing.T) {
	_, err := run(t, "gen-secret", "extra")
	assert.Error(t, err)
}

func TestSeed_Defaults(t *testing.T) {
	b, uid := memoryBackend(t, "alice")

	out, err := run(t, "seed", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Generated 3 actions with 90 logs for alice")

	actions, err := b.tracker.ListActions(context.Background(), uid)
	require.NoError(t, err)
	assert.Len(t, actions, 3)
}

func TestSeed_CustomCounts(t *testing.T) {
	memoryBackend(t, "alice")

	out, err := run(t, "seed", "alice", "2", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Generated 2 actions with 10 logs")
}

func TestSeed_UnknownUser(t *testing.T) {
	memoryBackend(t, "alice")

	_, err := run(t, "seed", "nobody")
	require.Error(t, err)
	assert.Equal(t, "user nobody not found", err.Error())
}

func TestSeed_BadArguments(t *testing.T) {
	memoryBackend(t, "alice")

	for _, args := range [][]string{
		{"seed"},
		{"seed", "alice", "three"},
		{"seed", "alice", "3", "-1"},
		{"seed", "alice", "1", "2", "3"},
	} {
		_, err := run(t, args...)
		assert.Error(t, err, strings.Join(args, " "))
	}
}
