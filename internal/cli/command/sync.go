package command

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/farmsync-go/internal/cli/output"
	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/core/service"
)

// syncResult renders a sync report, one row per entity type.
type syncResult struct {
	*service.SyncReport
}

func (r syncResult) Table(wide bool) *output.Table {
	headers := []string{"ENTITY", "PUSHED", "PULLED", "INSERTED", "UPDATED", "DELETED", "KEPT_LOCAL"}
	if wide {
		headers = append(headers, "PURGED")
	}
	t := output.NewTable(append(headers, "ERROR")...)
	for _, et := range domain.EntityTypes() {
		er, ok := r.Entities[et]
		if !ok {
			continue
		}
		row := []string{
			string(et),
			strconv.Itoa(er.Pushed),
			strconv.Itoa(er.Pulled),
			strconv.Itoa(er.Inserted),
			strconv.Itoa(er.Updated),
			strconv.Itoa(er.Deleted),
			strconv.Itoa(er.KeptLocal),
		}
		if wide {
			row = append(row, strconv.Itoa(er.Purged))
		}
		errText := er.Error
		if errText == "" {
			errText = "-"
		}
		t.AddRow(append(row, errText)...)
	}
	return t
}

// SyncCommand returns the sync command.
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Push local changes and pull remote changes of the logged in farmer",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "sync even if offline or synced recently",
			},
		},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	rt := runtimeFrom(c)
	eng, err := rt.Engine(c.Context)
	if err != nil {
		return err
	}

	var spin *output.Spinner
	if rt.Interactive() {
		spin = output.NewSpinner(rt.Stderr(), "syncing")
		spin.Start()
	}
	report := eng.Sync(c.Context, c.Bool("force"))
	if spin != nil {
		spin.Stop()
	}

	if report.Status == domain.SyncStatusSkipped {
		fmt.Fprintf(rt.Stderr(), "sync skipped: %v\n", report.Err)
		return nil
	}
	if report.Entities == nil && report.Err != nil {
		return report.Err
	}

	if rt.Interactive() {
		fmt.Fprintf(rt.Stdout(), "status: %s, pending push: %d\n\n", report.Status, report.PendingPush)
		if err := rt.Print(syncResult{report}); err != nil {
			return err
		}
	} else if err := rt.Print(report); err != nil {
		return err
	}

	if report.Status == domain.SyncStatusFailed {
		return fmt.Errorf("sync failed: %w", report.Err)
	}
	return nil
}
