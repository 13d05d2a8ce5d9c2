package postprocess

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zomboidtools/modfetch/internal/logger"
	"github.com/zomboidtools/modfetch/internal/steamcmd"
)

// modsSubdir is the conventional payload subfolder inside a Project
// Zomboid Workshop item. When present, its entries are the actual mod
// folders; when absent, the whole item directory is the payload.
const modsSubdir = "mods"

// Code classifies a per-item relocation outcome.
type Code int

const (
	// CodeOK means the payload was relocated into the target directory.
	CodeOK Code = iota

	// CodeCorruptDownload means SteamCMD reported success but no usable
	// payload exists under its output layout.
	CodeCorruptDownload

	// CodeRelocateFailed means moving the payload failed with an I/O
	// error. The scratch hierarchy is preserved so no data is lost.
	CodeRelocateFailed
)

// Result is the relocation outcome for one item.
type Result struct {
	ItemID  string
	Code    Code
	Folders []string // folder names created under the target directory
	Err     error
}

// Processor relocates downloaded payloads out of SteamCMD's scratch layout
// into the configured target directory.
type Processor struct {
	log *logger.Logger
}

// New creates a new Processor.
func New(log *logger.Logger) *Processor {
	return &Processor{log: log}
}

// Process relocates the payload of every given item from SteamCMD's output
// layout under installRoot into targetDir. An existing destination is fully
// replaced, never merged, so stale files from a previous download cannot
// survive.
//
// The scratch hierarchy is removed only when every relocation succeeded;
// on any corrupt or failed item it is left in place for inspection. A
// cleanup failure is logged but does not fail the batch.
func (p *Processor) Process(ids []string, installRoot, targetDir string) map[string]Result {
	results := make(map[string]Result, len(ids))
	contentDir := steamcmd.ContentDir(installRoot)

	allOK := true
	for _, id := range ids {
		res := p.processItem(id, contentDir, targetDir)
		results[id] = res
		if res.Code != CodeOK {
			allOK = false
		}
	}

	if allOK && len(ids) > 0 {
		p.cleanup(installRoot)
	}

	return results
}

// processItem relocates a single item's payload.
func (p *Processor) processItem(id, contentDir, targetDir string) Result {
	itemLog := p.log.WithField("item", id)
	payload := filepath.Join(contentDir, id)

	info, err := os.Stat(payload)
	if err != nil || !info.IsDir() {
		itemLog.Warn("downloaded payload directory missing")
		return Result{
			ItemID: id,
			Code:   CodeCorruptDownload,
			Err:    fmt.Errorf("payload directory missing: %s", payload),
		}
	}

	modsDir := filepath.Join(payload, modsSubdir)
	if modsInfo, err := os.Stat(modsDir); err == nil && modsInfo.IsDir() {
		return p.relocateModsFolder(id, modsDir, targetDir, itemLog)
	}

	// No mods subfolder: the item directory itself is the payload.
	empty, err := isEmptyDir(payload)
	if err != nil {
		return Result{ItemID: id, Code: CodeRelocateFailed, Err: err}
	}
	if empty {
		itemLog.Warn("downloaded payload directory is empty")
		return Result{
			ItemID: id,
			Code:   CodeCorruptDownload,
			Err:    fmt.Errorf("payload directory empty: %s", payload),
		}
	}

	dest := filepath.Join(targetDir, id)
	if err := replaceMove(payload, dest); err != nil {
		itemLog.WithError(err).Error("failed to relocate payload")
		return Result{ItemID: id, Code: CodeRelocateFailed, Err: err}
	}

	itemLog.WithField("dest", dest).Info("payload relocated")
	return Result{ItemID: id, Code: CodeOK, Folders: []string{id}}
}

// relocateModsFolder moves every entry of the item's mods subfolder into
// the target directory.
func (p *Processor) relocateModsFolder(id, modsDir, targetDir string, itemLog *logger.Logger) Result {
	entries, err := os.ReadDir(modsDir)
	if err != nil {
		return Result{ItemID: id, Code: CodeRelocateFailed, Err: err}
	}
	if len(entries) == 0 {
		itemLog.Warn("mods subfolder is empty")
		return Result{
			ItemID: id,
			Code:   CodeCorruptDownload,
			Err:    fmt.Errorf("mods subfolder empty: %s", modsDir),
		}
	}

	var folders []string
	for _, entry := range entries {
		src := filepath.Join(modsDir, entry.Name())
		dest := filepath.Join(targetDir, entry.Name())
		if err := replaceMove(src, dest); err != nil {
			itemLog.WithError(err).WithField("folder", entry.Name()).
				Error("failed to relocate mod folder")
			return Result{ItemID: id, Code: CodeRelocateFailed, Folders: folders, Err: err}
		}
		folders = append(folders, entry.Name())
		itemLog.WithField("folder", entry.Name()).Info("mod folder relocated")
	}

	return Result{ItemID: id, Code: CodeOK, Folders: folders}
}

// cleanup removes SteamCMD's scratch hierarchy. Failure here is a warning
// only: the payloads were already relocated.
func (p *Processor) cleanup(installRoot string) {
	scratch := steamcmd.ScratchDir(installRoot)
	if err := os.RemoveAll(scratch); err != nil {
		p.log.WithError(err).WithField("dir", scratch).
			Warn("could not clean up scratch directory")
		return
	}
	p.log.WithField("dir", scratch).Debug("scratch directory removed")
}

// replaceMove moves src to dest, fully replacing any existing destination.
func replaceMove(src, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("removing existing destination %s: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to copy and delete.
	if err := copyTree(src, dest); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// copyTree recursively copies a file or directory.
func copyTree(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return copyFile(src, dest, info.Mode())
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dest, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// isEmptyDir reports whether a directory has no entries.
func isEmptyDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
