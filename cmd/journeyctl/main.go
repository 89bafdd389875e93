// Package main provides journeyctl, a command line tool to validate, import and export
// journey definitions.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dukex/journey/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func newApp(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:                  "journeyctl",
		Usage:                 "Validate, import and export journey definitions",
		EnableShellCompletion: true,
		Writer:                stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			validateCommand(),
			importCommand(),
			exportCommand(),
		},
	}
}

func main() {
	err := newApp(os.Stdout).Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
