package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"slotmarket/core/types"
	"slotmarket/indexer"
)

func TestExportFiltersByToken(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "events.db")
	index, err := indexer.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, index.Record(context.Background(), []types.EventRecord{
		{Sequence: 1, Type: "inventory.minted", Attributes: map[string]string{"tokenId": "0"}, Timestamp: 10},
		{Sequence: 2, Type: "inventory.minted", Attributes: map[string]string{"tokenId": "1"}, Timestamp: 11},
		{Sequence: 3, Type: "auction.listed", Attributes: map[string]string{"tokenId": "1"}, Timestamp: 12},
	}))
	require.NoError(t, index.Close())

	out := filepath.Join(dir, "events.parquet")
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	code := run(context.Background(), []string{"--dsn", dsn, "--out", out, "--token", "1"}, stdout, stderr)
	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, "exported 2 events to "+out, strings.TrimSpace(stdout.String()))

	info, err := os.Stat(out)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestExportRequiresOutput(t *testing.T) {
	stderr := &bytes.Buffer{}
	code := run(context.Background(), []string{"--dsn", "unused.db"}, &bytes.Buffer{}, stderr)
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "--out is required")
}
