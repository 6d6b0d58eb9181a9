package command

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/farmsync-go/internal/cli/output"
	"github.com/yndnr/farmsync-go/internal/storage"
)

type dbStats struct {
	*storage.KVStats
}

func (s dbStats) Table(bool) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("total", output.FormatBytes(int64(s.TotalSize)))
	t.AddRow("lsm", output.FormatBytes(int64(s.LSMSize)))
	t.AddRow("value_log", output.FormatBytes(int64(s.ValueLogSize)))
	last := "-"
	if s.LastGCTime > 0 {
		last = time.UnixMilli(s.LastGCTime).Local().Format(output.TimeLayout)
	}
	t.AddRow("last_gc", last)
	return t
}

// GCResult reports a compaction.
type GCResult struct {
	Rewritten uint64 `json:"rewritten"`
}

// DBCommand returns the db subcommand group.
func DBCommand() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Inspect and maintain the device database",
		Subcommands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Show database size",
				Action: func(c *cli.Context) error {
					rt := runtimeFrom(c)
					eng, err := rt.Engine(c.Context)
					if err != nil {
						return err
					}
					st, err := eng.StorageStats(c.Context)
					if err != nil {
						return err
					}
					return rt.Print(dbStats{st})
				},
			},
			{
				Name:  "gc",
				Usage: "Reclaim space from the value log",
				Action: func(c *cli.Context) error {
					rt := runtimeFrom(c)
					eng, err := rt.Engine(c.Context)
					if err != nil {
						return err
					}
					n, err := eng.Compact(c.Context)
					if err != nil {
						return err
					}
					return rt.Print(&GCResult{Rewritten: n})
				},
			},
		},
	}
}
