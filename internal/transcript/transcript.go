// Package transcript appends raw inbound cluster lines to daily-rotated
// log files. It is a debugging aid for protocol quirks across cluster
// software vendors; spot retention itself stays in memory.
package transcript

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Transcript writes cluster traffic to one file per UTC day.
type Transcript struct {
	dir      string
	file     *os.File
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Transcript writing under dir.
func New(dir string) *Transcript {
	return &Transcript{
		dir:      dir,
		stopChan: make(chan struct{}),
	}
}

// Start opens today's file and launches the midnight rotation timer.
func (t *Transcript) Start() error {
	if err := os.MkdirAll(t.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create transcript directory: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.openFile(); err != nil {
		return err
	}
	t.wg.Add(1)
	go t.rotationTimer()
	return nil
}

// Stop halts rotation and closes the current file.
func (t *Transcript) Stop() error {
	close(t.stopChan)
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}

// WriteLine appends one received line, prefixed with the receive time.
func (t *Transcript) WriteLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file == nil {
		if err := t.openFile(); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(t.file, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
	return err
}

// rotationTimer rotates at midnight UTC.
func (t *Transcript) rotationTimer() {
	defer t.wg.Done()

	for {
		now := time.Now().UTC()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

		select {
		case <-time.After(nextMidnight.Sub(now)):
			if err := t.rotateAndCompress(); err != nil {
				fmt.Fprintf(os.Stderr, "transcript rotation error: %v\n", err)
			}
		case <-t.stopChan:
			return
		}
	}
}

// rotateAndCompress closes the current file, gzips yesterday's file and
// opens a fresh one for the new day.
func (t *Transcript) rotateAndCompress() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.file != nil {
		_ = t.file.Close()
		t.file = nil
	}

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	yesterdayFile := t.fileName(yesterday)
	if _, err := os.Stat(yesterdayFile); err == nil {
		if err := compressFile(yesterdayFile); err != nil {
			return fmt.Errorf("failed to compress transcript: %w", err)
		}
	}
	return t.openFile()
}

func (t *Transcript) openFile() error {
	name := t.fileName(time.Now().UTC())
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	t.file = file
	return nil
}

func (t *Transcript) fileName(day time.Time) string {
	return filepath.Join(t.dir, fmt.Sprintf("cluster_%s.log", day.Format("2006-01-02")))
}

// compressFile gzips path into path.gz and removes the original.
func compressFile(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer target.Close()

	gz := gzip.NewWriter(target)
	if _, err := io.Copy(gz, source); err != nil {
		_ = gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
