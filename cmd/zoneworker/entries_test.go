package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/zone"
)

func TestListEntries(t *testing.T) {
	ctx := context.Background()

	store, err := entry.OpenSQLite(ctx, filepath.Join(t.TempDir(), "zoneworker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Create(ctx, &entry.Entry{
		Title: "Kitchen",
		Data: entry.Data{
			RoomName: "Kitchen",
			AreaID:   "kitchen",
			Match:    zone.MatchArea,
			Domains:  []string{"light"},
		},
	}))

	var buf bytes.Buffer
	require.NoError(t, listEntries(ctx, store, &buf))

	var got []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "Kitchen", got[0]["title"])

	data, ok := got[0]["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Kitchen", data["room_name"])
	assert.Equal(t, "kitchen", data["area_id"])
	assert.Equal(t, []any{"light"}, data["domains"])
}

func TestListEntries_Empty(t *testing.T) {
	ctx := context.Background()

	store, err := entry.OpenSQLite(ctx, filepath.Join(t.TempDir(), "zoneworker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var buf bytes.Buffer
	require.NoError(t, listEntries(ctx, store, &buf))
	assert.Equal(t, "[]\n", buf.String())
}
