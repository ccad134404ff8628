// Package archive persists snapshots of purged jobs as zstd-compressed JSONL
// files, so retention cleanup never destroys the only record of a delivery.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"tenderwatch/internal/types"
)

// FileArchiver writes one compressed JSONL file per archived batch into a
// local directory (mounted volume or scratch space synced elsewhere).
type FileArchiver struct {
	dir    string
	clock  types.Clock
	logger types.Logger
}

// NewFileArchiver creates a FileArchiver rooted at dir, creating it if
// needed.
func NewFileArchiver(dir string, clock types.Clock, logger types.Logger) (*FileArchiver, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive: directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create directory: %w", err)
	}

	return &FileArchiver{
		dir:    dir,
		clock:  clock,
		logger: logger,
	}, nil
}

// ArchiveJobs serializes the batch to JSONL, compresses it with zstd, and
// writes it atomically (temp file + rename) so a crash never leaves a partial
// archive behind.
func (a *FileArchiver) ArchiveJobs(ctx context.Context, jobs []*types.NotificationJob) error {
	if len(jobs) == 0 {
		return nil
	}

	name := fmt.Sprintf("jobs_%s.jsonl.zst", a.clock.Now().Format("20060102T150405.000000000"))
	finalPath := filepath.Join(a.dir, name)
	tmpPath := finalPath + ".tmp"

	if err := a.writeArchive(tmpPath, jobs); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("archive: finalize %s: %w", name, err)
	}

	a.logger.Info("purged jobs archived",
		"file", name,
		"jobs", len(jobs),
	)

	return nil
}

func (a *FileArchiver) writeArchive(path string, jobs []*types.NotificationJob) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create file: %w", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("archive: create zstd writer: %w", err)
	}

	w := json.NewEncoder(enc)
	for _, job := range jobs {
		if err := w.Encode(job); err != nil {
			enc.Close()
			return fmt.Errorf("archive: encode job %s: %w", job.ID, err)
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("archive: flush zstd stream: %w", err)
	}
	return f.Sync()
}
