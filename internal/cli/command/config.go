package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/farmsync-go/internal/agent/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the effective configuration with secrets masked",
				Action: func(c *cli.Context) error {
					rt := runtimeFrom(c)
					cfg, err := rt.Config()
					if err != nil {
						return err
					}
					return rt.Print(config.Map(config.Sanitize(cfg)))
				},
			},
			{
				Name:  "path",
				Usage: "Print the configuration file in use",
				Action: func(c *cli.Context) error {
					rt := runtimeFrom(c)
					path := rt.configPath
					if path == "" {
						path = config.DefaultPath()
					}
					_, err := fmt.Fprintln(rt.Stdout(), path)
					return err
				},
			},
			{
				Name:      "validate",
				Usage:     "Check a configuration file",
				ArgsUsage: "[FILE]",
				Action: func(c *cli.Context) error {
					rt := runtimeFrom(c)
					path := c.Args().First()
					if path == "" {
						path = rt.configPath
					}
					if _, err := config.Load(path, rt.overrides); err != nil {
						return err
					}
					_, err := fmt.Fprintln(rt.Stdout(), "configuration is valid")
					return err
				},
			},
		},
	}
}
