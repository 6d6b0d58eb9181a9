package command

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/farmsync-go/internal/cli/output"
	"github.com/yndnr/farmsync-go/internal/core/domain"
	"github.com/yndnr/farmsync-go/internal/storage"
)

type recordList []*domain.LocalRecord

func (l recordList) Table(wide bool) *output.Table {
	headers := []string{"ID", "VERSION", "REMOTE", "DIRTY", "DELETED", "UPDATED"}
	if wide {
		headers = append(headers, "SCHEMA", "PAYLOAD")
	}
	t := output.NewTable(headers...)
	for _, r := range l {
		row := []string{
			r.EntityID,
			strconv.FormatUint(r.LocalVersion, 10),
			strconv.FormatUint(r.RemoteVersion, 10),
			yesNo(r.Dirty),
			yesNo(r.DeletedTombstone),
			r.UpdatedAt.Local().Format(output.TimeLayout),
		}
		if wide {
			row = append(row, strconv.Itoa(r.SchemaVersion), string(r.Payload))
		}
		t.AddRow(row...)
	}
	return t
}

type entityTypeList []domain.EntityType

func (l entityTypeList) Table(bool) *output.Table {
	t := output.NewTable("TYPE", "SCHEMA")
	for _, et := range l {
		t.AddRow(string(et), strconv.Itoa(domain.CurrentSchemaVersion(et)))
	}
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// RecordsCommand returns the records subcommand group.
func RecordsCommand() *cli.Command {
	return &cli.Command{
		Name:    "records",
		Aliases: []string{"rec"},
		Usage:   "Read and change the logged in farmer's records",
		Subcommands: []*cli.Command{
			{
				Name:  "types",
				Usage: "List the entity types and their schema versions",
				Action: func(c *cli.Context) error {
					return runtimeFrom(c).Print(entityTypeList(domain.EntityTypes()))
				},
			},
			{
				Name:      "list",
				Usage:     "List records of one entity type",
				ArgsUsage: "TYPE",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "deleted", Usage: "include records deleted locally but not yet synced"},
					&cli.BoolFlag{Name: "dirty", Usage: "only records not yet synced"},
					&cli.DurationFlag{Name: "since", Usage: "only records changed within this duration"},
					&cli.IntFlag{Name: "limit", Usage: "maximum number of records"},
				},
				Action: recordsList,
			},
			{
				Name:      "get",
				Usage:     "Show one record",
				ArgsUsage: "TYPE ID",
				Action:    recordsGet,
			},
			{
				Name:      "put",
				Usage:     "Create or replace a record",
				ArgsUsage: "TYPE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "record ID (generated when omitted)"},
					&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON payload"},
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "read the JSON payload from a file, - for stdin"},
					&cli.IntFlag{Name: "schema-version", Usage: "schema version of the payload (default: current)"},
				},
				Action: recordsPut,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a record",
				ArgsUsage: "TYPE ID",
				Action:    recordsDelete,
			},
		},
	}
}

func entityTypeArg(c *cli.Context) (domain.EntityType, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("entity type required (one of %v)", domain.EntityTypes())
	}
	et := domain.EntityType(c.Args().First())
	if !domain.IsKnownEntityType(et) {
		return "", domain.ErrUnknownEntityType.WithDetails(string(et))
	}
	return et, nil
}

func recordsList(c *cli.Context) error {
	et, err := entityTypeArg(c)
	if err != nil {
		return err
	}
	rt := runtimeFrom(c)
	eng, err := rt.Engine(c.Context)
	if err != nil {
		return err
	}

	filter := storage.Filter{
		IncludeDeleted: c.Bool("deleted"),
		DirtyOnly:      c.Bool("dirty"),
		Limit:          c.Int("limit"),
	}
	if d := c.Duration("since"); d > 0 {
		filter.UpdatedSince = time.Now().Add(-d)
	}
	recs, err := eng.Records().List(c.Context, et, filter, "")
	if err != nil {
		return err
	}
	return rt.Print(recordList(recs))
}

func recordsGet(c *cli.Context) error {
	et, err := entityTypeArg(c)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return fmt.Errorf("record ID required")
	}
	rt := runtimeFrom(c)
	eng, err := rt.Engine(c.Context)
	if err != nil {
		return err
	}
	rec, err := eng.Records().Get(c.Context, et, c.Args().Get(1), "")
	if err != nil {
		return err
	}
	return rt.Print(rec)
}

func recordsPut(c *cli.Context) error {
	et, err := entityTypeArg(c)
	if err != nil {
		return err
	}
	rt := runtimeFrom(c)
	payload, err := readPayload(rt, c.String("data"), c.String("file"))
	if err != nil {
		return err
	}
	eng, err := rt.Engine(c.Context)
	if err != nil {
		return err
	}

	stored, err := eng.Records().Put(c.Context, &domain.LocalRecord{
		EntityType:    et,
		EntityID:      c.String("id"),
		Payload:       payload,
		SchemaVersion: c.Int("schema-version"),
	})
	if err != nil {
		return err
	}
	return rt.Print(stored)
}

func readPayload(rt *Runtime, data, file string) (json.RawMessage, error) {
	switch {
	case data != "" && file != "":
		return nil, fmt.Errorf("use either --data or --file")
	case data != "":
		return json.RawMessage(data), nil
	case file == "-":
		b, err := io.ReadAll(rt.Stdin())
		return json.RawMessage(b), err
	case file != "":
		b, err := os.ReadFile(file)
		return json.RawMessage(b), err
	default:
		return nil, fmt.Errorf("payload required, use --data or --file")
	}
}

func recordsDelete(c *cli.Context) error {
	et, err := entityTypeArg(c)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return fmt.Errorf("record ID required")
	}
	rt := runtimeFrom(c)
	eng, err := rt.Engine(c.Context)
	if err != nil {
		return err
	}
	id := c.Args().Get(1)
	if err := eng.Records().Delete(c.Context, et, id); err != nil {
		return err
	}
	fmt.Fprintf(rt.Stderr(), "%s %s deleted, the delete is sent on the next sync\n", et, id)
	return nil
}
