package utils

import (
	"constancias/models"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// RosterIssuer issues the records parsed from one roster file. An error means
// the whole batch was aborted.
type RosterIssuer func(ctx context.Context, file string, records []models.CertificateRecord) error

// logScheduler logs scheduler events
func logScheduler(format string, args ...interface{}) {
	log.Printf("[ROSTER-SCHEDULER] "+format, args...)
}

// InitializeRosterScheduler runs the inbox on spec. A run that is still busy
// when the next one is due makes the next one skip.
func InitializeRosterScheduler(spec, inboxDir string, maxRowsPerSheet int, issue RosterIssuer) (*cron.Cron, error) {
	if spec == "" || inboxDir == "" {
		return nil, errors.New("roster scheduler needs ROSTER_CRON and ROSTER_INBOX_DIR")
	}
	if err := os.MkdirAll(inboxDir, 0755); err != nil {
		return nil, err
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		processed, failed := ProcessRosterInbox(context.Background(), inboxDir, maxRowsPerSheet, issue)
		if processed+failed > 0 {
			logScheduler("Inbox run finished: %d processed, %d failed", processed, failed)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid ROSTER_CRON %q: %w", spec, err)
	}

	c.Start()
	logScheduler("Watching %s (%s)", inboxDir, spec)
	return c, nil
}

// ProcessRosterInbox issues every .xlsx in inboxDir, oldest name first, and
// moves each file to processed/ or failed/.
func ProcessRosterInbox(ctx context.Context, inboxDir string, maxRowsPerSheet int, issue RosterIssuer) (processed, failed int) {
	entries, err := os.ReadDir(inboxDir)
	if err != nil {
		logScheduler("Error reading inbox %s: %v", inboxDir, err)
		return 0, 0
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "~$") {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".xlsx") {
			files = append(files, filepath.Join(inboxDir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, path := range files {
		dest := processedDir
		if err := processRosterFile(ctx, path, maxRowsPerSheet, issue); err != nil {
			logScheduler("Roster %s failed: %v", filepath.Base(path), err)
			dest = failedDir
			failed++
		} else {
			processed++
		}
		if _, err := MoveToDir(path, filepath.Join(inboxDir, dest)); err != nil {
			logScheduler("Error moving %s to %s: %v", filepath.Base(path), dest, err)
		}
	}
	return processed, failed
}

func processRosterFile(ctx context.Context, path string, maxRowsPerSheet int, issue RosterIssuer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	records, err := ParseRoster(f, maxRowsPerSheet)
	f.Close()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errors.New("no completed courses found")
	}
	return issue(ctx, filepath.Base(path), records)
}
