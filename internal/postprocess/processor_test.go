package postprocess

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomboidtools/modfetch/internal/logger"
	"github.com/zomboidtools/modfetch/internal/steamcmd"
)

func newTestProcessor() *Processor {
	return New(logger.New(&logger.Config{Level: "error", Output: io.Discard}))
}

// writePayload lays out a downloaded item under the SteamCMD scratch
// hierarchy. Files are given as paths relative to the item directory.
func writePayload(t *testing.T, installRoot, itemID string, files map[string]string) {
	t.Helper()
	base := filepath.Join(steamcmd.ContentDir(installRoot), itemID)
	for rel, content := range files {
		path := filepath.Join(base, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	if len(files) == 0 {
		require.NoError(t, os.MkdirAll(base, 0o755))
	}
}

func TestProcessRelocatesModsSubfolder(t *testing.T) {
	installRoot := t.TempDir()
	targetDir := filepath.Join(installRoot, "Zomboid", "mods")
	require.NoError(t, os.MkdirAll(targetDir, 0o755))

	writePayload(t, installRoot, "111", map[string]string{
		"mods/BetterSorting/mod.info":         "name=Better Sorting",
		"mods/BetterSorting/media/lua/bs.lua": "-- lua",
	})

	results := newTestProcessor().Process([]string{"111"}, installRoot, targetDir)

	res := results["111"]
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, []string{"BetterSorting"}, res.Folders)

	// payload lands in the target dir mirroring its internal structure
	assert.FileExists(t, filepath.Join(targetDir, "BetterSorting", "mod.info"))
	assert.FileExists(t, filepath.Join(targetDir, "BetterSorting", "media", "lua", "bs.lua"))

	// scratch hierarchy is gone after a fully successful batch
	assert.NoDirExists(t, steamcmd.ScratchDir(installRoot))
}

func TestProcessRelocatesBarePayload(t *testing.T) {
	installRoot := t.TempDir()
	targetDir := filepath.Join(installRoot, "mods")
	require.NoError(t, os.MkdirAll(targetDir, 0o755))

	writePayload(t, installRoot, "222", map[string]string{
		"readme.txt": "no mods subfolder here",
	})

	results := newTestProcessor().Process([]string{"222"}, installRoot, targetDir)

	res := results["222"]
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, []string{"222"}, res.Folders)
	assert.FileExists(t, filepath.Join(targetDir, "222", "readme.txt"))
}

func TestProcessMissingPayloadIsCorrupt(t *testing.T) {
	installRoot := t.TempDir()
	targetDir := filepath.Join(installRoot, "mods")
	require.NoError(t, os.MkdirAll(targetDir, 0o755))

	// 111 downloaded fine, 333 was reported successful but left nothing
	writePayload(t, installRoot, "111", map[string]string{
		"mods/GoodMod/mod.info": "name=Good Mod",
	})

	results := newTestProcessor().Process([]string{"111", "333"}, installRoot, targetDir)

	assert.Equal(t, CodeOK, results["111"].Code)
	assert.Equal(t, CodeCorruptDownload, results["333"].Code)
	assert.Error(t, results["333"].Err)

	// scratch is preserved for inspection when any item is corrupt
	assert.DirExists(t, steamcmd.ScratchDir(installRoot))
}

func TestProcessEmptyPayloadIsCorrupt(t *testing.T) {
	installRoot := t.TempDir()
	targetDir := filepath.Join(installRoot, "mods")
	require.NoError(t, os.MkdirAll(targetDir, 0o755))

	writePayload(t, installRoot, "444", map[string]string{})

	results := newTestProcessor().Process([]string{"444"}, installRoot, targetDir)
	assert.Equal(t, CodeCorruptDownload, results["444"].Code)
}

func TestProcessReplacesExistingDestination(t *testing.T) {
	installRoot := t.TempDir()
	targetDir := filepath.Join(installRoot, "mods")

	// a previous download left a stale file that must not survive
	stale := filepath.Join(targetDir, "BetterSorting", "stale.lua")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))

	writePayload(t, installRoot, "111", map[string]string{
		"mods/BetterSorting/mod.info": "name=Better Sorting v2",
	})

	results := newTestProcessor().Process([]string{"111"}, installRoot, targetDir)

	assert.Equal(t, CodeOK, results["111"].Code)
	assert.FileExists(t, filepath.Join(targetDir, "BetterSorting", "mod.info"))
	assert.NoFileExists(t, stale, "replace semantics: stale files are removed, not merged over")
}

func TestProcessEmptyBatchLeavesScratchAlone(t *testing.T) {
	installRoot := t.TempDir()
	scratch := steamcmd.ScratchDir(installRoot)
	require.NoError(t, os.MkdirAll(scratch, 0o755))

	results := newTestProcessor().Process(nil, installRoot, filepath.Join(installRoot, "mods"))

	assert.Empty(t, results)
	assert.DirExists(t, scratch)
}

func TestReplaceMoveAcrossDirectories(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dest := filepath.Join(t.TempDir(), "nested", "dest")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))

	require.NoError(t, replaceMove(src, dest))

	assert.FileExists(t, filepath.Join(dest, "a.txt"))
	assert.NoDirExists(t, src)
}
