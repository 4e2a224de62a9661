// Command bookview prints the engine state persisted in Redis: last
// status line and per-instrument positions. Useful while the engine is
// running or after a wind-down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"

	"github.com/erain9/pairflow/pkg/state"
)

var (
	redisAddr = flag.String("redis", "localhost:6379", "Redis address")
	redisDB   = flag.Int("db", 0, "Redis database")
	prefix    = flag.String("prefix", "pairflow", "Key prefix")
	watch     = flag.Duration("watch", 0, "Refresh interval, 0 prints once")
)

func main() {
	flag.Parse()

	ctx := context.Background()
	store, err := state.NewStore(ctx, state.Options{
		Addr:   *redisAddr,
		DB:     *redisDB,
		Prefix: *prefix,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach state store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	for {
		render(ctx, store)
		if *watch <= 0 {
			return
		}
		time.Sleep(*watch)
	}
}

func render(ctx context.Context, store *state.Store) {
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()
	yellow := color.New(color.FgYellow).SprintfFunc()

	status, ts, err := store.LoadStatus(ctx)
	switch {
	case err != nil:
		fmt.Printf("%s %v\n", red("status:"), err)
	case status == "":
		fmt.Printf("%s %s\n", cyan("status:"), yellow("none recorded"))
	default:
		line := green("%s", status)
		if status != "active" {
			line = red("%s", status)
		}
		fmt.Printf("%s %s (as of %s)\n", cyan("status:"), line, ts.Format(time.RFC3339))
	}

	positions, err := store.LoadPositions(ctx)
	if err != nil {
		fmt.Printf("%s %v\n", red("positions:"), err)
		return
	}
	if len(positions) == 0 {
		fmt.Printf("%s %s\n", cyan("positions:"), yellow("flat"))
		return
	}

	secIDs := make([]int, 0, len(positions))
	for id := range positions {
		secIDs = append(secIDs, id)
	}
	sort.Ints(secIDs)

	fmt.Println(cyan("positions:"))
	for _, id := range secIDs {
		pos := positions[id]
		rendered := green("%+.2f", pos)
		if pos < 0 {
			rendered = red("%+.2f", pos)
		}
		fmt.Printf("  %s %s\n", cyan("%d", id), rendered)
	}
}
