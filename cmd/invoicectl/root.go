package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-invoicing/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-invoicing/internal/app"
	"github.com/odyssey-erp/odyssey-invoicing/internal/numbering"
	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/db"
)

var version = "dev"

// JobRunner is the slice of cli.JobsCLI the job commands use.
type JobRunner interface {
	Trigger(ctx context.Context, name, key string) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (cli.QueueStats, error)
	ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error)
	Close() error
}

// FormatService is the slice of numbering.Service the format commands use.
type FormatService interface {
	GetFormat(ctx context.Context, businessUnitID, salesCategoryID int64) (numbering.Format, error)
	SaveFormat(ctx context.Context, input numbering.SaveFormatInput) (numbering.Format, error)
	PreviewNext(ctx context.Context, businessUnitID, salesCategoryID int64) (numbering.Number, error)
}

// env builds collaborators on demand so commands only connect to what they need.
type env struct {
	jobs    func(cmd *cobra.Command) (JobRunner, error)
	formats func(cmd *cobra.Command) (FormatService, func(), error)
}

func defaultEnv() env {
	return env{
		jobs: func(cmd *cobra.Command) (JobRunner, error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, err
			}
			return cli.NewJobsCLI(cfg.RedisAddr), nil
		},
		formats: func(cmd *cobra.Command) (FormatService, func(), error) {
			cfg, err := app.LoadConfig()
			if err != nil {
				return nil, nil, err
			}
			loc, err := cfg.NumberingLocation()
			if err != nil {
				return nil, nil, err
			}
			pool, err := db.New(cmd.Context(), cfg.PGDSN, db.WithMaxConns(2), db.WithApplicationName("invoicectl"))
			if err != nil {
				return nil, nil, err
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			svc := numbering.NewService(numbering.NewRepository(pool), numbering.NewAllocator(numbering.WithLocation(loc)), logger)
			return svc, pool.Close, nil
		},
	}
}

func newRootCmd(e env) *cobra.Command {
	root := &cobra.Command{
		Use:          "invoicectl",
		Short:        "Operator tooling for Odyssey invoicing",
		Long:         "invoicectl triggers background jobs, inspects the job queue and manages invoice number formats.",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newJobsCmd(e), newFormatCmd(e))
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
