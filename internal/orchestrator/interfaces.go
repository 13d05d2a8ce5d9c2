package orchestrator

import (
	"context"

	"github.com/zomboidtools/modfetch/internal/postprocess"
	"github.com/zomboidtools/modfetch/internal/resolver"
	"github.com/zomboidtools/modfetch/internal/steamcmd"
)

// BatchDriver runs one SteamCMD batch over the given item ids.
type BatchDriver interface {
	Run(ctx context.Context, ids []string, events func(steamcmd.Event)) (*steamcmd.BatchResult, error)
}

// PayloadProcessor relocates downloaded payloads into the target directory.
type PayloadProcessor interface {
	Process(ids []string, installRoot, targetDir string) map[string]postprocess.Result
}

// ClosureResolver expands seed ids into their dependency closure.
type ClosureResolver interface {
	ExpandClosure(ctx context.Context, seeds []string) ([]string, []resolver.Warning)
}
