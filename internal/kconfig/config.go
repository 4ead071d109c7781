// Package kconfig loads the harness's on-disk configuration: the sizes and
// identities the three mid-layer components are constructed with
// (buffer-pool size, VMA slot count, the simulated NIC's addresses, the
// disk image path). Grounded in calvinalkan-agent-task/config.go's HuJSON
// loader, keeping its default-then-override merge shape but trimmed to one
// config file instead of that tool's global+project+explicit chain, since
// kmid has no per-project config directory to search.
package kconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"

	"biscuit/internal/netstack"
)

var (
	// ErrFileNotFound is returned when an explicitly named config path
	// does not exist.
	ErrFileNotFound = errors.New("config file not found")
	// ErrInvalid wraps a parse or validation failure, naming the file.
	ErrInvalid = errors.New("invalid config file")
)

// Config holds every value the harness needs to construct a Cache, Stack,
// and VMA Table.
type Config struct {
	NBuf     int    `json:"nbuf"`
	MaxVMA   int    `json:"maxvma"`
	LocalIP  string `json:"local_ip"`  //nolint:tagliatelle
	LocalMAC string `json:"local_mac"` //nolint:tagliatelle
	HostMAC  string `json:"host_mac"`  //nolint:tagliatelle
	DiskPath string `json:"disk_path"` //nolint:tagliatelle
	NBlocks  int    `json:"nblocks"`
}

// defaultMaxVMA mirrors internal/vma.MAXVMA; kept as a plain constant
// rather than an import so this package does not depend on internal/vma
// for nothing but one number.
const defaultMaxVMA = 16

// Default matches the simulated NIC's fixed local/host addresses, plus
// buffer/VMA sizes generous enough for interactive use.
func Default() Config {
	return Config{
		NBuf:     64,
		MaxVMA:   defaultMaxVMA,
		LocalIP:  "10.0.2.15",
		LocalMAC: "52:54:00:12:34:56",
		HostMAC:  "52:55:0a:00:02:02",
		DiskPath: "kmid.img",
		NBlocks:  4096,
	}
}

// Load reads and merges path (if non-empty) over Default(); a named path
// that does not exist returns ErrFileNotFound. It standardizes HuJSON (comments, trailing commas) to JSON first, the way
// calvinalkan-agent-task/config.go's parseConfig does via
// github.com/tailscale/hujson before handing off to encoding/json.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}

	var overlay Config
	if err := json.Unmarshal(standardized, &overlay); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	mergeInto(&cfg, overlay)

	if err := validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalid, path, err)
	}
	return cfg, nil
}

func mergeInto(base *Config, overlay Config) {
	if overlay.NBuf != 0 {
		base.NBuf = overlay.NBuf
	}
	if overlay.MaxVMA != 0 {
		base.MaxVMA = overlay.MaxVMA
	}
	if overlay.LocalIP != "" {
		base.LocalIP = overlay.LocalIP
	}
	if overlay.LocalMAC != "" {
		base.LocalMAC = overlay.LocalMAC
	}
	if overlay.HostMAC != "" {
		base.HostMAC = overlay.HostMAC
	}
	if overlay.DiskPath != "" {
		base.DiskPath = overlay.DiskPath
	}
	if overlay.NBlocks != 0 {
		base.NBlocks = overlay.NBlocks
	}
}

func validate(cfg Config) error {
	if cfg.NBuf < 13 {
		return fmt.Errorf("nbuf must be >= %d (NSLOT)", 13)
	}
	if cfg.NBlocks <= 0 {
		return errors.New("nblocks must be > 0")
	}
	if _, err := netstack.ParseMAC(cfg.LocalMAC); err != nil {
		return fmt.Errorf("local_mac: %w", err)
	}
	if _, err := netstack.ParseMAC(cfg.HostMAC); err != nil {
		return fmt.Errorf("host_mac: %w", err)
	}
	if _, err := netstack.ParseIP(cfg.LocalIP); err != nil {
		return fmt.Errorf("local_ip: %w", err)
	}
	return nil
}

// Format renders cfg as indented JSON using the same field names Load
// reads.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}
	return string(data), nil
}
