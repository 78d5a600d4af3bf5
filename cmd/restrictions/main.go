// Command restrictions harvests land-use restriction layers listed in a
// sources file into GeoParquet files or a spatial database, and compares
// release summaries.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "restrictions/internal/storage/all"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}
