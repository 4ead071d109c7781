package main

import (
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print buffer-cache, network, and memory counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness()
			if err != nil {
				return err
			}
			defer h.Close()
			printStats(cmd.OutOrStdout(), h)
			return nil
		},
	}
}

// printStats reports the running counters internal/bc and internal/netstack
// already accumulate (CacheStats, netstack.Stats) plus the physical-page
// allocator's free count, formatted with thousands separators via
// golang.org/x/text/message the way a long-running harness's operator
// output should read, rather than encoding/json's bare digit runs.
func printStats(out io.Writer, h *harness) {
	p := message.NewPrinter(language.English)

	cs := h.cache.Stats()
	ns := h.stack.Stats()

	p.Fprintf(out, "buffer cache: %d buffers, %d hits, %d misses, %d steals\n",
		h.cache.NBuf(), cs.Hits, cs.Misses, cs.Steals)
	p.Fprintf(out, "network: %d delivered, %d dropped\n", ns.Delivered, ns.Dropped)
	p.Fprintf(out, "memory: %d pages free\n", h.pages.Free())
}
