package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"slotmarket/config"
	"slotmarket/indexer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run exports indexed market events to a parquet file. The index location is
// taken from --dsn, or from the node configuration when --dsn is empty.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("slotmarket-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dsn := fs.String("dsn", "", "event index DSN (sqlite path or postgres:// URL)")
	configPath := fs.String("config", "./config.toml", "node configuration used when --dsn is empty")
	out := fs.String("out", "", "parquet file to write")
	eventType := fs.String("type", "", "only export events of this type")
	tokenID := fs.Int64("token", -1, "only export events for this slot token")
	after := fs.Uint64("after", 0, "only export events after this sequence")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(stderr, "Error: --out is required")
		return 1
	}

	source := strings.TrimSpace(*dsn)
	if source == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: load config: %v\n", err)
			return 1
		}
		source = cfg.Indexer.DSN
	}

	index, err := indexer.Open(source)
	if err != nil {
		fmt.Fprintf(stderr, "Error: open index: %v\n", err)
		return 1
	}
	defer index.Close()

	q := indexer.Query{Type: strings.TrimSpace(*eventType), AfterSequence: *after}
	if *tokenID >= 0 {
		id := uint64(*tokenID)
		q.TokenID = &id
	}
	count, err := index.ExportParquet(ctx, *out, q)
	if err != nil {
		fmt.Fprintf(stderr, "Error: export: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "exported %d events to %s\n", count, *out)
	return 0
}
