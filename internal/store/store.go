package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zomboidtools/modfetch/internal/model"
)

// Sentinel errors returned by queue operations.
var (
	// ErrDuplicateItem means the id is already active in the queue.
	ErrDuplicateItem = errors.New("item already queued")

	// ErrUnknownItem means no queue entry exists for the id.
	ErrUnknownItem = errors.New("unknown item")

	// ErrInvalidState means the operation is not allowed in the item's
	// current status.
	ErrInvalidState = errors.New("invalid item state")
)

// Store persists the download queue and history in a SQLite database. Every
// mutating operation commits before returning, so the queue reflects the
// last acknowledged state after a crash-restart.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at the given path, runs migrations
// and requeues any items a previous run left in-flight.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps readers from blocking the single writer
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")

	if err := db.AutoMigrate(&model.Item{}, &model.HistoryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// Items still marked Fetching or Processing were in-flight when the
	// previous process died. Return them to the queue at their original
	// position so they can be retried or removed.
	err = db.Model(&model.Item{}).
		Where("status IN ?", []model.ItemStatus{model.StatusFetching, model.StatusProcessing}).
		Updates(map[string]interface{}{
			"status":     model.StatusQueued,
			"last_error": "",
			"started_at": time.Time{},
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to requeue in-flight items: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Enqueue adds an item to the queue in Queued status. Re-adding an id whose
// entry is terminal resets it to a fresh Queued entry at the back of the
// queue (re-download); re-adding an active id fails with ErrDuplicateItem.
func (s *Store) Enqueue(item model.Item) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing model.Item
		err := tx.First(&existing, "id = ?", item.ID).Error
		switch {
		case err == nil:
			if !existing.Status.IsTerminal() {
				return ErrDuplicateItem
			}
			// terminal row: recycle it as a new queue entry
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fresh entry
		default:
			return err
		}

		seq, err := nextSeq(tx)
		if err != nil {
			return err
		}

		item.Status = model.StatusQueued
		item.Seq = seq
		item.LastError = ""
		item.EnqueuedAt = time.Now().UTC()
		item.StartedAt = time.Time{}
		item.FinishedAt = time.Time{}

		return tx.Save(&item).Error
	})
}

// Pending returns a FIFO snapshot of the items currently in Queued status.
// The queue itself is not mutated.
func (s *Store) Pending() ([]model.Item, error) {
	var items []model.Item
	err := s.db.
		Where("status = ?", model.StatusQueued).
		Order("seq asc").
		Find(&items).Error
	return items, err
}

// Items returns every live queue entry in FIFO order, including terminal
// ones that have not been cleared yet.
func (s *Store) Items() ([]model.Item, error) {
	var items []model.Item
	err := s.db.Order("seq asc").Find(&items).Error
	return items, err
}

// Get returns a single queue entry by id.
func (s *Store) Get(id string) (*model.Item, error) {
	var item model.Item
	err := s.db.First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownItem
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Remove deletes a queue entry. Only Queued and terminal entries may be
// removed; an item that is part of an in-flight batch fails with
// ErrInvalidState.
func (s *Store) Remove(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var item model.Item
		if err := tx.First(&item, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownItem
			}
			return err
		}
		if item.Status.IsActive() {
			return fmt.Errorf("%w: cannot remove item in status %s", ErrInvalidState, item.Status)
		}
		return tx.Delete(&model.Item{}, "id = ?", id).Error
	})
}

// MarkStatus transitions an item's status and records timestamps and the
// last error message. Fails with ErrUnknownItem if the id is not in the
// queue.
func (s *Store) MarkStatus(id string, status model.ItemStatus, errMsg string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":     status,
		"last_error": errMsg,
	}
	switch status {
	case model.StatusFetching:
		updates["started_at"] = now
	case model.StatusCompleted, model.StatusFailed:
		updates["finished_at"] = now
	}

	res := s.db.Model(&model.Item{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUnknownItem
	}
	return nil
}

// SetTitle records a title discovered after enqueue, without touching the
// rest of the entry.
func (s *Store) SetTitle(id, title string) error {
	return s.db.Model(&model.Item{}).Where("id = ?", id).
		Update("title", title).Error
}

// RecordHistory appends a terminal outcome to the history log. History is
// append-only and never mutated.
func (s *Store) RecordHistory(rec model.HistoryRecord) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	return s.db.Create(&rec).Error
}

// History returns all recorded outcomes, newest first.
func (s *Store) History() ([]model.HistoryRecord, error) {
	var recs []model.HistoryRecord
	err := s.db.Order("finished_at desc, id desc").Find(&recs).Error
	return recs, err
}

// HasCompleted reports whether history records a Completed outcome for the
// id.
func (s *Store) HasCompleted(id string) (bool, error) {
	var count int64
	err := s.db.Model(&model.HistoryRecord{}).
		Where("item_id = ? AND status = ?", id, model.StatusCompleted).
		Count(&count).Error
	return count > 0, err
}

// ClearTerminal removes Completed and Failed entries from the live queue.
// Their history records are untouched.
func (s *Store) ClearTerminal() error {
	return s.db.
		Where("status IN ?", []model.ItemStatus{model.StatusCompleted, model.StatusFailed}).
		Delete(&model.Item{}).Error
}

// nextSeq assigns the next FIFO position inside the enclosing transaction.
func nextSeq(tx *gorm.DB) (int64, error) {
	var maxSeq int64
	err := tx.Model(&model.Item{}).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}
