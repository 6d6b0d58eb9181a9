package command

import (
	"github.com/urfave/cli/v2"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show tenant, session, connectivity and sync state",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-probe",
				Usage: "do not contact the remote",
			},
		},
		Action: func(c *cli.Context) error {
			rt := runtimeFrom(c)
			eng, err := rt.Engine(c.Context)
			if err != nil {
				return err
			}
			st, err := eng.Status(c.Context, !c.Bool("no-probe"))
			if err != nil {
				return err
			}
			return rt.Print(st)
		},
	}
}
