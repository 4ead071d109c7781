package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"biscuit/internal/bc"
	"biscuit/internal/kapi"
	"biscuit/internal/kconfig"
	"biscuit/internal/mem"
	"biscuit/internal/netstack"
	"biscuit/internal/simfs"
	"biscuit/internal/vma"
)

var configPath string

// Version is overwritten at release time, the same placeholder pattern
// dh-cli's root command uses for its --version output.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kmid",
		Short:         "kernel mid-layer harness: buffer cache, UDP stack, and mmap",
		Version:       fmt.Sprintf("kmid %s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a kmid config file (HuJSON)")

	cmd.AddCommand(newMkfsCmd())
	cmd.AddCommand(newReplCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newPprofCmd())
	return cmd
}

// simNIC wraps the Loopback transmitter the harness records frames on; the
// logger Stack.Rx reports ARP-reply failures through is passed to
// NewStack separately.
type simNIC struct {
	*netstack.Loopback
}

// harness bundles one running instance of every mid-layer component,
// wired the way a kernel boot sequence wires the buffer cache, UDP stack,
// and mmap engine over one concrete disk and NIC.
type harness struct {
	cfg   kconfig.Config
	disk  *simfs.Disk
	cache *bc.Cache
	pages *mem.Physmem_t
	pt    *vma.PageTable
	nic   *simNIC
	stack *netstack.Stack
	proc  *kapi.Process
}

// newHarness loads cfg from configPath (or the built-in defaults) and
// constructs every component, opening the disk image exclusively.
func newHarness() (*harness, error) {
	cfg, err := kconfig.Load(configPath)
	if err != nil {
		return nil, err
	}

	disk, err := simfs.Open(cfg.DiskPath, cfg.NBlocks)
	if err != nil {
		return nil, fmt.Errorf("opening disk image: %w", err)
	}

	cache := bc.NewCache(cfg.NBuf, disk)
	pages := mem.NewPhysmem(4 * cfg.MaxVMA)
	pt := vma.NewPageTable()

	localMAC, err := netstack.ParseMAC(cfg.LocalMAC)
	if err != nil {
		disk.Close()
		return nil, err
	}
	hostMAC, err := netstack.ParseMAC(cfg.HostMAC)
	if err != nil {
		disk.Close()
		return nil, err
	}
	localIP, err := netstack.ParseIP(cfg.LocalIP)
	if err != nil {
		disk.Close()
		return nil, err
	}

	nic := &simNIC{netstack.NewLoopback()}
	stack := netstack.NewStack(nic, localMAC, hostMAC, localIP, log.Default())
	proc := kapi.NewProcess(pt, pages, 0x10000, cfg.MaxVMA)

	return &harness{
		cfg:   cfg,
		disk:  disk,
		cache: cache,
		pages: pages,
		pt:    pt,
		nic:   nic,
		stack: stack,
		proc:  proc,
	}, nil
}

func (h *harness) Close() error {
	return h.disk.Close()
}
