package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"scholarq/internal/config"
	"scholarq/internal/queue"
)

// lowDiskBytes is the free space below which health reports a warning.
const lowDiskBytes = 512 << 20

type healthReport struct {
	Database queue.DatabaseHealth `json:"database"`
	Worker   workerState          `json:"worker"`
}

type workerState struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Lock    string `json:"lock"`
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database and worker health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				dbHealth, checkErr := store.CheckHealth(cmd.Context())
				report := healthReport{
					Database: dbHealth,
					Worker:   probeWorker(ctx.config),
				}
				if checkErr != nil && report.Database.Error == "" {
					report.Database.Error = checkErr.Error()
				}
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, report); err != nil {
						return err
					}
					return checkErr
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Queue database", colorize) {
					fmt.Fprintln(out, line)
				}
				db := report.Database
				fmt.Fprintln(out, renderStatusLine("Path", statusInfo, db.DBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Exists", boolKind(db.DatabaseExists), yesNo(db.DatabaseExists), colorize))
				fmt.Fprintln(out, renderStatusLine("Readable", boolKind(db.DatabaseReadable), yesNo(db.DatabaseReadable), colorize))
				fmt.Fprintln(out, renderStatusLine("Schema version", statusInfo, strconv.FormatInt(db.SchemaVersion, 10), colorize))
				fmt.Fprintln(out, renderStatusLine("Integrity check", boolKind(db.IntegrityCheck), yesNo(db.IntegrityCheck), colorize))
				fmt.Fprintln(out, renderStatusLine("Tasks", statusInfo, humanize.Comma(int64(db.TotalTasks)), colorize))
				diskKind := statusOK
				if db.FreeBytes > 0 && db.FreeBytes < lowDiskBytes {
					diskKind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine("Free space", diskKind, humanize.IBytes(db.FreeBytes), colorize))
				if db.Error != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, db.Error, colorize))
				}

				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Worker", colorize) {
					fmt.Fprintln(out, line)
				}
				worker := report.Worker
				message := "not running"
				kind := statusWarn
				if worker.Running {
					kind = statusOK
					message = "running"
					if worker.PID > 0 {
						message = fmt.Sprintf("running (pid %d)", worker.PID)
					}
				}
				fmt.Fprintln(out, renderStatusLine("Worker", kind, message, colorize))
				fmt.Fprintln(out, renderStatusLine("Lock", statusInfo, worker.Lock, colorize))
				return checkErr
			})
		},
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

// probeWorker reports a worker as running when its lock cannot be taken.
func probeWorker(cfg *config.Config) workerState {
	state := workerState{Lock: cfg.LockPath()}
	lock := flock.New(state.Lock)
	locked, err := lock.TryLock()
	if err != nil {
		return state
	}
	if locked {
		_ = lock.Unlock()
		return state
	}
	state.Running = true
	if data, err := os.ReadFile(cfg.PIDPath()); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			state.PID = pid
		}
	}
	return state
}
