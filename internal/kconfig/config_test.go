package kconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("Load(\"\") mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMergesOverConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kmid.hujson")
	// HuJSON: trailing comma and a comment, standardized away before
	// encoding/json ever sees it (hujson.Standardize).
	contents := `{
		// only override the buffer pool size
		"nbuf": 128,
	}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 128, cfg.NBuf)

	want := Default()
	want.NBuf = 128
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("Load(%s) mismatch (-want +got):\n%s", path, diff)
	}
}

func TestLoadRejectsMalformedMAC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kmid.hujson")
	require.NoError(t, os.WriteFile(path, []byte(`{"local_mac": "not-a-mac"}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.hujson"))
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestFormatRoundTrips(t *testing.T) {
	s, err := Format(Default())
	require.NoError(t, err)
	require.Contains(t, s, `"nbuf"`)

	var got Config
	require.NoError(t, json.Unmarshal([]byte(s), &got))
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Fatalf("Format round trip mismatch (-want +got):\n%s", diff)
	}
}
