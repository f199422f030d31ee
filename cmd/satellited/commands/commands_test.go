package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/timers"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("satellited"), kong.Exit(func(int) {}))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = kctx.Run(&Global{Out: &buf}, cli)
	return buf.String(), err
}

func TestDecodeCommand(t *testing.T) {
	output, err := runCLI(t, "decode", "--json", "--at", "2024-05-15T14:00:00Z", "in", "90", "seconds")
	require.NoError(t, err)

	var res map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &res))
	assert.Equal(t, "2024-05-15T14:01:30Z", res["fire_at"])
	assert.NotEmpty(t, res["in"])
}

func TestDecodeCommandErrors(t *testing.T) {
	_, err := runCLI(t, "decode", "whenever")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidTime))

	_, err = runCLI(t, "decode", "--at", "yesterday", "in", "5", "minutes")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryInvalidArgument))
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "satellited.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: "1.0"
menu: {write_backoff: sideways}
devices:
  - entity_id: sensor.office
`), 0o600))

	output, err := runCLI(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, output, "warning:")
	assert.Contains(t, output, "ok (1 devices)")

	_, err = runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "validate")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestTimersListCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timers.db")
	store, err := timers.NewSQLiteStore(path)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.SaveAll(context.Background(), []timers.Timer{
		{ID: "t1", Owner: "sensor.office", Class: timers.ClassTimer, Name: "pasta", FireAt: now.Add(time.Hour), Status: timers.StatusActive, CreatedAt: now, UpdatedAt: now},
		{ID: "t2", Owner: "sensor.kitchen", Class: timers.ClassAlarm, FireAt: now.Add(-time.Hour), Status: timers.StatusExpired, CreatedAt: now, UpdatedAt: now},
	}))
	require.NoError(t, store.Close())

	output, err := runCLI(t, "timers", "list", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, output, "pasta")
	assert.NotContains(t, output, "t2")

	output, err = runCLI(t, "timers", "list", "--db", path, "--expired", "--device", "sensor.kitchen")
	require.NoError(t, err)
	assert.Contains(t, output, "t2")
	assert.NotContains(t, output, "pasta")
}

func TestVersionCommand(t *testing.T) {
	output, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "satellited")
}
