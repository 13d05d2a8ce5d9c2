package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zomboidtools/modfetch/internal/config"
	"github.com/zomboidtools/modfetch/internal/logger"
	"github.com/zomboidtools/modfetch/internal/model"
	"github.com/zomboidtools/modfetch/internal/orchestrator"
	"github.com/zomboidtools/modfetch/internal/postprocess"
	"github.com/zomboidtools/modfetch/internal/resolver"
	"github.com/zomboidtools/modfetch/internal/steamcmd"
	"github.com/zomboidtools/modfetch/internal/store"
	"github.com/zomboidtools/modfetch/internal/workshop"
)

// Version is set during build via -ldflags "-X main.version=X.Y.Z"
var version = "dev"

const usage = `modfetch v%s - Steam Workshop mod downloader for Project Zomboid

Usage:
  modfetch [--config FILE] add <id>...    enqueue Workshop items
  modfetch [--config FILE] remove <id>    remove a queued item
  modfetch [--config FILE] list           show the queue
  modfetch [--config FILE] history        show past downloads
  modfetch [--config FILE] run            download the queue as one batch
`

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, usage, version)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "modfetch: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:       settings.Log.Level,
		Format:      settings.Log.Format,
		File:        settings.Log.File,
		ServiceName: "modfetch",
	})

	st, err := store.Open(settings.Database.Path)
	if err != nil {
		log.WithError(err).Fatal("failed to open queue database")
	}
	defer st.Close()

	if err := run(flag.Args(), settings, st, log); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func run(args []string, settings *config.Settings, st *store.Store, log *logger.Logger) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "add":
		return addItems(rest, st, log)
	case "remove":
		if len(rest) != 1 {
			return fmt.Errorf("remove takes exactly one item id")
		}
		return st.Remove(rest[0])
	case "list":
		return listQueue(st)
	case "history":
		return listHistory(st)
	case "run":
		return runBatch(settings, st, log)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// addItems enqueues Workshop items, fetching titles when the API answers.
func addItems(ids []string, st *store.Store, log *logger.Logger) error {
	if len(ids) == 0 {
		return fmt.Errorf("add takes at least one item id")
	}

	client := workshop.NewClient()
	details, err := client.Details(context.Background(), ids)
	if err != nil {
		log.WithError(err).Warn("could not fetch item metadata, titles will be resolved later")
		details = map[string]workshop.Detail{}
	}

	for _, id := range ids {
		item := model.Item{
			ID:        id,
			SourceURL: fmt.Sprintf(workshop.ItemPageURL, id),
			Title:     details[id].Title,
		}
		if err := st.Enqueue(item); err != nil {
			if errors.Is(err, store.ErrDuplicateItem) {
				fmt.Printf("%s already queued\n", id)
				continue
			}
			return err
		}
		fmt.Printf("queued %s %s\n", id, item.Title)
	}
	return nil
}

func listQueue(st *store.Store) error {
	items, err := st.Items()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("queue is empty")
		return nil
	}
	for _, item := range items {
		line := fmt.Sprintf("%-12s %-10s %s", item.ID, item.Status, item.Title)
		if item.LastError != "" {
			line += " (" + item.LastError + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func listHistory(st *store.Store) error {
	recs, err := st.History()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no downloads recorded")
		return nil
	}
	for _, rec := range recs {
		line := fmt.Sprintf("%s %-12s %-10s %s",
			rec.FinishedAt.Local().Format("2006-01-02 15:04"),
			rec.ItemID, rec.Status, rec.Title)
		if rec.Error != "" {
			line += " (" + rec.Error + ")"
		}
		fmt.Println(line)
	}
	return nil
}

// runBatch wires the full pipeline and drains the queue once. SIGINT kills
// SteamCMD and requeues whatever was still pending.
func runBatch(settings *config.Settings, st *store.Store, log *logger.Logger) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	client := workshop.NewClient()
	res := resolver.New(client, log)
	driver := steamcmd.NewDriver(settings, log)
	proc := postprocess.New(log)

	orch := orchestrator.New(st, res, driver, proc, settings, log)
	orch.SetStatusCallback(func(ev model.StatusEvent) {
		if ev.Message != "" {
			fmt.Printf("[%s] %s: %s\n", ev.Status, ev.ItemID, ev.Message)
			return
		}
		fmt.Printf("[%s] %s\n", ev.Status, ev.ItemID)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return orch.RunOnce(ctx)
}
