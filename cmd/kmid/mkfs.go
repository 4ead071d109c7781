package main

import (
	"bytes"
	"fmt"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"biscuit/internal/bc"
)

// newMkfsCmd builds the `kmid mkfs` subcommand: lay down a zero-filled
// disk image of the requested size, narrowed to "make an empty image"
// since there is no filesystem layer here for mkfs to format.
func newMkfsCmd() *cobra.Command {
	var (
		out    string
		blocks int
	)
	cmd := &cobra.Command{
		Use:   "mkfs",
		Short: "create a zero-filled disk image sized for the buffer cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			if blocks <= 0 {
				return fmt.Errorf("mkfs: --blocks must be > 0")
			}
			data := make([]byte, int64(blocks)*bc.BSIZE)
			// Written atomically (rename-after-write) so a crash mid-mkfs
			// never leaves a half-written image a later Open would silently
			// accept, the same hazard atomic.WriteFile exists to close for
			// calvinalkan-agent-task's cache files.
			if err := atomic.WriteFile(out, bytes.NewReader(data)); err != nil {
				return fmt.Errorf("mkfs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d blocks (%d bytes)\n", out, blocks, len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "kmid.img", "path to write the disk image to")
	cmd.Flags().IntVar(&blocks, "blocks", 4096, "number of BSIZE blocks in the image")
	return cmd
}
