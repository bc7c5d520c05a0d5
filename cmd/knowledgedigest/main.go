package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"KnowledgeDigest/internal/app"
	"KnowledgeDigest/internal/config"
	"KnowledgeDigest/internal/domain"
	"KnowledgeDigest/internal/logging"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "knowledgedigest",
		Short:         "Summarize new transactions, news and prices into the knowledge base",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newApplication() (*app.Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	return app.New(cfg, logger), nil
}

func runCmd() *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the summarization pipeline once",
		Long: `Run the summarization pipeline once over every enabled source, or only the
sources named with --source. Exits non-zero when a source could not be read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			categories := make([]domain.Category, 0, len(sources))
			for _, raw := range sources {
				c, err := domain.ParseCategory(raw)
				if err != nil {
					return err
				}
				categories = append(categories, c)
			}

			application, err := newApplication()
			if err != nil {
				return err
			}

			report, err := application.Run(cmd.Context(), categories...)
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "sources to run (transactions, news, prices)")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete knowledge entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			deleted, err := application.Sweep(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries\n", deleted)
			return err
		},
	}
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch configured RSS feeds into the news store",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			res, err := application.Ingest(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "feeds=%d added=%d existing=%d\n", res.Feeds, res.Added, res.Existing)
			return err
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline periodically and expose the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			return application.Serve(cmd.Context())
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the source and knowledge tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApplication()
			if err != nil {
				return err
			}
			if err := application.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
