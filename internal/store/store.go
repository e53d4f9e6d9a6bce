// Package store persists downloadable files, their models and the progress
// of unfinished downloads in SQLite.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"modelhost/internal/common/fsutil"
	"modelhost/pkg/types"
)

// ErrNotFound is returned when a file id has no record.
var ErrNotFound = errors.New("record not found")

// Entry pairs a file row with its model row.
type Entry struct {
	File  File
	Model Model
}

// PendingEntry is an unfinished download with progress recomputed from disk.
type PendingEntry struct {
	Entry
	Progress float64
	Status   types.PendingStatus
	Error    string
}

// Store owns the database handle. Every operation runs under mu so writes
// issued by concurrent transfers never interleave on the connection.
type Store struct {
	mu  sync.Mutex
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Model{}, &File{}, &PendingDownload{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	log.Debug().Str("component", "store").Str("event", "open").Str("path", path).Send()
	return &Store{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save upserts model and file and records a pending download whose progress
// reflects the bytes already on disk.
func (s *Store) Save(file File, model Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	file.Downloaded = false
	file.DownloadedAt = nil
	pending := PendingDownload{
		FileID:   file.ID,
		Progress: Percent(fsutil.FileSize(file.DownloadedPath()), file.FileSize),
		Status:   types.PendingDownloading,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		if err := tx.Save(&file).Error; err != nil {
			return err
		}
		return tx.Save(&pending).Error
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", file.ID, err)
	}
	return nil
}

// MarkDownloaded flags the file as complete and drops its pending row.
func (s *Store) MarkDownloaded(fileID string, fileSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"downloaded": true, "downloaded_at": &now}
		if fileSize > 0 {
			updates["file_size"] = fileSize
		}
		res := tx.Model(&File{}).Where("id = ?", fileID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Delete(&PendingDownload{}, "file_id = ?", fileID).Error
	})
	if err != nil {
		return fmt.Errorf("mark downloaded %s: %w", fileID, err)
	}
	return nil
}

// UpdatePending records the latest progress and status of an unfinished download.
func (s *Store) UpdatePending(fileID string, progress float64, status types.PendingStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := PendingDownload{FileID: fileID, Progress: progress, Status: status, Error: errMsg}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("update pending %s: %w", fileID, err)
	}
	return nil
}

// Get returns the file and model for fileID.
func (s *Store) Get(fileID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var e Entry
	if err := s.db.First(&e.File, "id = ?", fileID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return e, fmt.Errorf("%w: %s", ErrNotFound, fileID)
		}
		return e, err
	}
	if err := s.db.Limit(1).Find(&e.Model, "id = ?", e.File.ModelID).Error; err != nil {
		return e, err
	}
	return e, nil
}

// Downloaded lists completed files, most recent first.
func (s *Store) Downloaded() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var files []File
	if err := s.db.Where("downloaded = ?", true).Order("downloaded_at desc").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list downloaded: %w", err)
	}
	models, err := s.modelsFor(files)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(files))
	for _, f := range files {
		out = append(out, Entry{File: f, Model: models[f.ModelID]})
	}
	return out, nil
}

// Pending lists unfinished downloads with progress taken from the bytes on disk.
func (s *Store) Pending() ([]PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []PendingDownload
	if err := s.db.Order("updated_at asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.FileID)
	}
	var files []File
	if err := s.db.Where("id IN ?", ids).Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list pending files: %w", err)
	}
	byID := make(map[string]File, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}
	models, err := s.modelsFor(files)
	if err != nil {
		return nil, err
	}
	out := make([]PendingEntry, 0, len(rows))
	for _, r := range rows {
		f, ok := byID[r.FileID]
		if !ok {
			continue
		}
		progress := r.Progress
		if f.FileSize > 0 {
			progress = Percent(fsutil.FileSize(f.DownloadedPath()), f.FileSize)
		}
		out = append(out, PendingEntry{
			Entry:    Entry{File: f, Model: models[f.ModelID]},
			Progress: progress,
			Status:   r.Status,
			Error:    r.Error,
		})
	}
	return out, nil
}

// Remove deletes the file record, its pending row, and the model once no file
// references it anymore.
func (s *Store) Remove(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var f File
		if err := tx.Limit(1).Find(&f, "id = ?", fileID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&PendingDownload{}, "file_id = ?", fileID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&File{}, "id = ?", fileID).Error; err != nil {
			return err
		}
		if f.ModelID == "" {
			return nil
		}
		var n int64
		if err := tx.Model(&File{}).Where("model_id = ?", f.ModelID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return tx.Delete(&Model{}, "id = ?", f.ModelID).Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove %s: %w", fileID, err)
	}
	return nil
}

// Reconcile aligns the records with the filesystem: completed files whose
// bytes vanished are removed, and downloads left running by a previous
// process become paused. It returns the number of rows changed.
func (s *Store) Reconcile() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var done []File
		if err := tx.Where("downloaded = ?", true).Find(&done).Error; err != nil {
			return err
		}
		for _, f := range done {
			if fsutil.PathExists(f.DownloadedPath()) {
				continue
			}
			if err := tx.Delete(&File{}, "id = ?", f.ID).Error; err != nil {
				return err
			}
			s.log.Warn().Str("component", "store").Str("event", "reconcile_missing").Str("file", f.ID).Send()
			changed++
		}
		var rows []PendingDownload
		if err := tx.Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			var f File
			res := tx.Limit(1).Find(&f, "id = ?", r.FileID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Delete(&PendingDownload{}, "file_id = ?", r.FileID).Error; err != nil {
					return err
				}
				changed++
				continue
			}
			if r.Status != types.PendingDownloading {
				continue
			}
			r.Status = types.PendingPaused
			if f.FileSize > 0 {
				r.Progress = Percent(fsutil.FileSize(f.DownloadedPath()), f.FileSize)
			}
			if err := tx.Save(&r).Error; err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return changed, fmt.Errorf("reconcile: %w", err)
	}
	return changed, nil
}

func (s *Store) modelsFor(files []File) (map[string]Model, error) {
	out := map[string]Model{}
	if len(files) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(files))
	seen := map[string]bool{}
	for _, f := range files {
		if !seen[f.ModelID] {
			seen[f.ModelID] = true
			ids = append(ids, f.ModelID)
		}
	}
	var models []Model
	if err := s.db.Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("load models: %w", err)
	}
	for _, m := range models {
		out[m.ID] = m
	}
	return out, nil
}

// Percent converts a byte count into a 0-100 progress value.
func Percent(done, total int64) float64 {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return float64(done) / float64(total) * 100
}
