package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Inbox subdirectories. A file moves from the inbox root to claimed/ when it is
// announced, then to processed/ or failed/ once scoring settles it.
const (
	ClaimedDir   = "claimed"
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// Inbox is a directory where upstream drops window files.
type Inbox struct {
	dir string
}

// NewInbox returns an inbox rooted at dir, creating it and its subdirectories.
func NewInbox(dir string) (*Inbox, error) {
	for _, sub := range []string{ClaimedDir, ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create inbox: %w", err)
		}
	}
	return &Inbox{dir: dir}, nil
}

// Pending lists window files waiting in the inbox, oldest name first.
func (i *Inbox) Pending() ([]string, error) {
	return listFiles(i.dir)
}

// Claim moves a pending file into claimed/ and returns its new path,
// so a later scan does not pick it up twice.
func (i *Inbox) Claim(path string) (string, error) {
	return i.move(path, ClaimedDir)
}

// Release returns a claimed file to the inbox root to be polled again.
func (i *Inbox) Release(claimed string) (string, error) {
	return i.move(claimed, "")
}

// Complete moves a claimed file into processed/.
func (i *Inbox) Complete(claimed string) (string, error) {
	return i.move(claimed, ProcessedDir)
}

// Fail moves a claimed file into failed/. Failed files are not retried.
func (i *Inbox) Fail(claimed string) (string, error) {
	return i.move(claimed, FailedDir)
}

// Owns reports whether path is a file claimed from this inbox.
func (i *Inbox) Owns(path string) bool {
	return filepath.Clean(filepath.Dir(path)) == filepath.Clean(filepath.Join(i.dir, ClaimedDir))
}

// Requeue releases every file left in claimed/, typically by a process that
// stopped before settling it. It returns the number of files released.
func (i *Inbox) Requeue() (int, error) {
	claimed, err := listFiles(filepath.Join(i.dir, ClaimedDir))
	if err != nil {
		return 0, err
	}
	for n, path := range claimed {
		if _, err := i.Release(path); err != nil {
			return n, err
		}
	}
	return len(claimed), nil
}

func (i *Inbox) move(path, sub string) (string, error) {
	dst := filepath.Join(i.dir, sub, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("failed to move %s to %s: %w", path, dst, err)
	}
	return dst, nil
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
