package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zomboidtools/modfetch/internal/config"
	"github.com/zomboidtools/modfetch/internal/logger"
	"github.com/zomboidtools/modfetch/internal/model"
	"github.com/zomboidtools/modfetch/internal/postprocess"
	"github.com/zomboidtools/modfetch/internal/resolver"
	"github.com/zomboidtools/modfetch/internal/steamcmd"
	"github.com/zomboidtools/modfetch/internal/store"
)

// TestFullBatchPipeline drives the real process driver, output classifier
// and post-processor through a stub tool: queue = [111, 222] where 222
// requires 111, the tool reports both downloaded, and both payloads end up
// relocated under the target directory.
func TestFullBatchPipeline(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub tool scripts require a POSIX shell")
	}

	targetDir := t.TempDir()

	// The stub lays its payloads out exactly like SteamCMD: the install
	// root arrives as the +force_install_dir argument ($2).
	script := `#!/bin/sh
root="$2"
mkdir -p "$root/steamapps/workshop/content/108600/111/mods/ModA"
echo "name=Mod A" > "$root/steamapps/workshop/content/108600/111/mods/ModA/mod.info"
mkdir -p "$root/steamapps/workshop/content/108600/222/mods/ModB"
echo "name=Mod B" > "$root/steamapps/workshop/content/108600/222/mods/ModB/mod.info"
echo "Connecting anonymously to Steam Public...Logged in OK"
echo "Downloading item 111 ..."
echo "Success. Downloaded item 111 to \"$root/steamapps/workshop/content/108600/111\" (1024 bytes)"
echo "Downloading item 222 ..."
echo "Success. Downloaded item 222 to \"$root/steamapps/workshop/content/108600/222\" (2048 bytes)"
exit 0
`
	toolPath := filepath.Join(t.TempDir(), "steamcmd.sh")
	require.NoError(t, os.WriteFile(toolPath, []byte(script), 0o755))

	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer st.Close()

	log := logger.New(&logger.Config{Level: "error", Output: io.Discard})
	settings := &config.Settings{
		SteamCMDPath: toolPath,
		TargetDir:    targetDir,
		Login:        config.LoginSettings{Anonymous: true},
	}

	orch := New(
		st,
		resolver.New(depSource{"222": {"111"}}, log),
		steamcmd.NewDriver(settings, log),
		postprocess.New(log),
		settings,
		log,
	)

	require.NoError(t, orch.Enqueue("111", "", "Mod A"))
	require.NoError(t, orch.Enqueue("222", "", "Mod B"))
	require.NoError(t, orch.RunOnce(context.Background()))

	item, err := st.Get("111")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, item.Status)

	item, err = st.Get("222")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, item.Status)

	assert.FileExists(t, filepath.Join(targetDir, "ModA", "mod.info"))
	assert.FileExists(t, filepath.Join(targetDir, "ModB", "mod.info"))
	assert.NoDirExists(t, filepath.Join(targetDir, "steamapps"), "scratch hierarchy is cleaned up")

	recs, err := st.History()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, model.StatusCompleted, rec.Status)
		assert.NotEmpty(t, rec.Folders)
	}
}
