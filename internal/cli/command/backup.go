package command

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/farmsync-go/internal/cli/output"
)

// BackupResult describes a written backup.
type BackupResult struct {
	File    string `json:"file"`
	Bytes   int64  `json:"bytes"`
	Version uint64 `json:"version"`
}

// BackupCommand returns the backup subcommand group.
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Back up or restore the device database",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Write a full backup",
				ArgsUsage: "FILE",
				Action:    backupCreate,
			},
			{
				Name:      "restore",
				Usage:     "Load a backup, typically on a new device",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "skip confirmation",
					},
				},
				Action: backupRestore,
			},
		},
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

func backupCreate(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("backup file required")
	}
	path := c.Args().First()
	rt := runtimeFrom(c)
	eng, err := rt.Engine(c.Context)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".farmsync-backup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	var w io.Writer = tmp
	var bar *output.ProgressBar
	if rt.Interactive() {
		bar = output.NewProgressBar(rt.Stderr(), "backup", 0)
		w = bar.Writer(w)
	}
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	version, err := eng.Records().Backup(c.Context, cw)
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return rt.Print(&BackupResult{File: path, Bytes: cw.n, Version: version})
}

func backupRestore(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("backup file required")
	}
	path := c.Args().First()
	rt := runtimeFrom(c)

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	if !c.Bool("force") {
		answer, err := readLine(rt, fmt.Sprintf("restore %s into the local database? [y/N] ", path))
		if err != nil {
			return err
		}
		if a := strings.ToLower(answer); a != "y" && a != "yes" {
			return errors.New("restore cancelled")
		}
	}

	eng, err := rt.Engine(c.Context)
	if err != nil {
		return err
	}

	var r io.Reader = bufio.NewReader(f)
	var bar *output.ProgressBar
	if rt.Interactive() {
		bar = output.NewProgressBar(rt.Stderr(), "restore", info.Size())
		r = bar.Reader(r)
	}
	err = eng.Records().Restore(c.Context, r)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	fmt.Fprintf(rt.Stderr(), "restored %s (%s)\n", path, output.FormatBytes(info.Size()))
	return nil
}
