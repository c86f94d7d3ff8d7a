// Command emmcctl mounts an eMMC card behind an SDHI controller and runs a
// single operation on it: identify the card, dump or modify EXT_CSD, select a
// partition, erase, read or write sectors.
//
// The controller backend is either the built-in simulator or, on Linux, the
// register window mapped from /dev/mem. Settings come from a YAML file given
// with --config; flags override file values.
//
//	emmcctl info
//	emmcctl --config board.yml read 0 8 --out mbr.bin
//	emmcctl --config board.yml --partition boot1 write 0 --in bl2.bin
package main

import (
	"context"
	"os"
	"os/signal"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand(newApp()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
