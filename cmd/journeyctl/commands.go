package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/journey/pkg/cmd"
	"github.com/dukex/journey/pkg/conditions"
	"github.com/dukex/journey/pkg/config"
	"github.com/dukex/journey/pkg/log"
	"github.com/dukex/journey/pkg/models"
	"github.com/dukex/journey/pkg/persistence"
	"github.com/dukex/journey/pkg/services"
	"github.com/dukex/journey/pkg/validation"
	cli "github.com/urfave/cli/v3"
)

var errInvalidDefinition = errors.New("definition is invalid")

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Database connection URL for persistence (file:// or postgres://)",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func journeyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "journey",
		Aliases:  []string{"j"},
		Usage:    "Journey id",
		Required: true,
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a definition file without storing it",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Validation mode (draft, publish)",
				Value: string(validation.ModePublish),
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("definition file is required")
			}

			mode, err := validation.ParseMode(command.String("mode"))
			if err != nil {
				return err
			}

			definition, err := config.LoadDefinition(path)
			if err != nil {
				return err
			}

			validator, err := validation.New(conditions.NewRegistry())
			if err != nil {
				return err
			}

			result := validator.Validate(definition, mode)
			printResult(command.Root().Writer, mode, result)

			if !result.Valid {
				return errInvalidDefinition
			}

			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Store a definition file as the draft of a journey, creating the journey if needed",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			databaseFlag(),
			journeyFlag(),
			&cli.StringFlag{
				Name:     "actor",
				Usage:    "Who the change is recorded as",
				Required: true,
				Sources:  cli.EnvVars("JOURNEY_ACTOR"),
			},
			&cli.BoolFlag{
				Name:  "publish",
				Usage: "Publish the draft after importing it",
			},
			&cli.StringFlag{
				Name:  "notes",
				Usage: "Release notes when publishing",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			path := command.Args().First()
			if path == "" {
				return errors.New("definition file is required")
			}

			definition, err := config.LoadDefinition(path)
			if err != nil {
				return err
			}

			return withVersions(ctx, command, func(versions *services.Versions) error {
				out := command.Root().Writer
				journeyID := command.String("journey")
				actor := command.String("actor")

				if _, err := versions.GetJourney(ctx, journeyID); persistence.IsJourneyNotFound(err) {
					name := definition.Name
					if name == "" {
						name = journeyID
					}

					if _, err := versions.CreateJourney(ctx, journeyID, name, actor); err != nil {
						return err
					}

					fmt.Fprintf(out, "Created journey %s\n", journeyID)
				} else if err != nil {
					return err
				}

				_, result, err := versions.UpdateDraft(ctx, journeyID, definition, actor)
				if err != nil {
					var failure *services.ValidationFailure
					if errors.As(err, &failure) {
						printResult(out, failure.Mode, validation.Result{Errors: failure.Errors, Warnings: failure.Warnings})
					}

					return err
				}

				printResult(out, validation.ModeDraft, result)
				fmt.Fprintf(out, "Saved draft of %s\n", journeyID)

				if !command.Bool("publish") {
					return nil
				}

				published, err := versions.Publish(ctx, journeyID, actor, command.String("notes"))
				if err != nil {
					var failure *services.ValidationFailure
					if errors.As(err, &failure) {
						printResult(out, failure.Mode, validation.Result{Errors: failure.Errors, Warnings: failure.Warnings})
					}

					return err
				}

				fmt.Fprintf(out, "Published %s version %d\n", journeyID, published.Version)

				return nil
			})
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write a published version or the draft of a journey",
		Flags: []cli.Flag{
			databaseFlag(),
			journeyFlag(),
			&cli.IntFlag{
				Name:  "version",
				Usage: "Published version to export, the current one when 0",
			},
			&cli.BoolFlag{
				Name:  "draft",
				Usage: "Export the draft instead of a published version",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format (yaml, json)",
				Value: string(config.FormatYAML),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "File to write, stdout when empty",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			format, err := config.ParseFormat(command.String("format"))
			if err != nil {
				return err
			}

			return withVersions(ctx, command, func(versions *services.Versions) error {
				definition, err := exportedDefinition(ctx, versions, command)
				if err != nil {
					return err
				}

				output := command.String("output")
				if output == "" {
					return config.EncodeDefinition(command.Root().Writer, definition, format)
				}

				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}

				if err := config.EncodeDefinition(file, definition, format); err != nil {
					_ = file.Close()
					return err
				}

				return file.Close()
			})
		},
	}
}

func exportedDefinition(ctx context.Context, versions *services.Versions, command *cli.Command) (*models.JourneyDefinition, error) {
	journeyID := command.String("journey")

	if command.Bool("draft") {
		draft, err := versions.GetDraft(ctx, journeyID)
		if err != nil {
			return nil, err
		}

		return draft.Definition, nil
	}

	var (
		published *models.PublishedVersion
		err       error
	)

	if version := command.Int("version"); version > 0 {
		published, err = versions.GetVersion(ctx, journeyID, version)
	} else {
		published, err = versions.GetCurrentVersion(ctx, journeyID)
	}

	if err != nil {
		return nil, err
	}

	return published.Definition, nil
}

func withVersions(ctx context.Context, command *cli.Command, fn func(*services.Versions) error) error {
	logger := log.WithModule("journeyctl")

	store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	validator, err := validation.New(conditions.NewRegistry())
	if err != nil {
		return err
	}

	return fn(services.NewVersions(store, validator, services.Options{Logger: logger}))
}

func printResult(w io.Writer, mode validation.Mode, result validation.Result) {
	for _, e := range result.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}

	if len(result.Errors) == 0 {
		fmt.Fprintf(w, "%s validation passed with %d warning(s)\n", mode, len(result.Warnings))
	}
}
