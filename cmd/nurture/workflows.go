package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dukex/nurture/pkg/actions"
	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/workflowfile"
	cli "github.com/urfave/cli/v3"
)

var errPathRequired = errors.New("a workflow file or directory is required")

func WorkflowsCommand() *cli.Command {
	return &cli.Command{
		Name:    "workflows",
		Aliases: []string{"wf"},
		Usage:   "Manage workflow definitions",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate workflow files without saving them",
				ArgsUsage: "<file|dir>",
				Flags:     []cli.Flag{cmd.LogLevelFlag()},
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() == 0 {
						return errPathRequired
					}

					return validateWorkflows(newLoader(), command.Args().First(), os.Stdout)
				},
			},
			{
				Name:      "import",
				Usage:     "Validate and save workflow files, updating workflows with the same name",
				ArgsUsage: "<file|dir>",
				Flags:     []cli.Flag{cmd.LogLevelFlag(), cmd.DatabaseURLFlag()},
				Action: func(ctx context.Context, command *cli.Command) error {
					if command.Args().Len() == 0 {
						return errPathRequired
					}

					return withStore(ctx, command, func(store persistence.Persistence) error {
						return importWorkflows(ctx, newLoader(), store.WorkflowRepository(), command.Args().First(), os.Stdout)
					})
				},
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List stored workflows",
				Flags:   []cli.Flag{cmd.LogLevelFlag(), cmd.DatabaseURLFlag()},
				Action: func(ctx context.Context, command *cli.Command) error {
					return withStore(ctx, command, func(store persistence.Persistence) error {
						return listWorkflows(ctx, store.WorkflowRepository(), os.Stdout)
					})
				},
			},
		},
	}
}

// newLoader validates action params against the built-in actions. The
// dispatcher is never executed here, so it needs no store.
func newLoader() *workflowfile.Loader {
	return workflowfile.NewLoader(actions.NewDefaultDispatcher(log.WithModule("cli"), nil, nil, nil))
}

func withStore(ctx context.Context, command *cli.Command, fn func(persistence.Persistence) error) error {
	log.Setup(command.String("log-level"))
	logger := log.WithModule("cli")

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	return fn(store)
}

func validateWorkflows(loader *workflowfile.Loader, path string, out io.Writer) error {
	workflows, err := loader.Load(path)
	if err != nil {
		return err
	}

	for _, workflow := range workflows {
		if _, err := fmt.Fprintf(out, "ok\t%s\t%d steps\n", workflow.Name, len(workflow.Steps)); err != nil {
			return err
		}
	}

	return nil
}

func importWorkflows(ctx context.Context, loader *workflowfile.Loader, repo persistence.WorkflowRepository, path string, out io.Writer) error {
	workflows, err := loader.Load(path)
	if err != nil {
		return err
	}

	for _, workflow := range workflows {
		created, err := workflowfile.Import(ctx, repo, workflow)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", workflow.Name, err)
		}

		action := "updated"
		if created {
			action = "created"
		}

		if _, err := fmt.Fprintf(out, "%s\t%s\t%s\n", action, workflow.Name, workflow.ID); err != nil {
			return err
		}
	}

	return nil
}

func listWorkflows(ctx context.Context, repo persistence.WorkflowRepository, out io.Writer) error {
	workflows, err := repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch workflows: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSTEPS")

	for _, workflow := range workflows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", workflow.ID, workflow.Name, workflow.Status, len(workflow.Steps))
	}

	return w.Flush()
}
