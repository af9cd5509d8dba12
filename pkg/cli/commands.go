package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conductorone/wlanon/pkg/config"
	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/logging"
	"github.com/conductorone/wlanon/pkg/report"
	"github.com/conductorone/wlanon/pkg/store"
)

func initLogger(ctx context.Context, name string, opts ...logging.Option) (context.Context, error) {
	return logging.Init(ctx, append(opts, logging.WithInitialFields(map[string]any{
		"tool": name,
	}))...)
}

// MakeRunCommand returns the command that computes the necessary blanks of a
// graph and writes the result files.
func MakeRunCommand(ctx context.Context, name string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:           "run",
		Short:         "Compute the nodes that must stay blank for k-anonymity",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	if err := configToCmdFlags(cmd, &config.Run{}); err != nil {
		return nil, err
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg := &config.Run{}
		if _, err := loadConfig(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		runCtx, err := initLogger(
			ctx,
			name,
			logging.WithLogFormat(cfg.LogFormat),
			logging.WithLogLevel(cfg.LogLevel),
			logging.WithVerbose(cfg.Verbose),
		)
		if err != nil {
			return err
		}

		if err := runPreprocess(runCtx, cfg); err != nil {
			ctxzap.Extract(runCtx).Error("run failed", zap.Error(err))
			return err
		}
		return nil
	}
	return cmd, nil
}

// MakeStatsCommand returns the command that summarizes the class structure of
// a graph without preprocessing it.
func MakeStatsCommand(ctx context.Context, name string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:           "stats",
		Short:         "Summarize the indistinguishability classes of a graph",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	if err := configToCmdFlags(cmd, &config.Stats{}); err != nil {
		return nil, err
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg := &config.Stats{}
		if _, err := loadConfig(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		runCtx, err := initLogger(
			ctx,
			name,
			logging.WithLogFormat(cfg.LogFormat),
			logging.WithLogLevel(cfg.LogLevel),
			logging.WithVerbose(cfg.Verbose),
		)
		if err != nil {
			return err
		}

		ds, err := graph.Load(runCtx, cfg.Input, cfg.SubjectRule())
		if err != nil {
			return err
		}
		s, err := report.Summarize(runCtx, ds, cfg.K)
		if err != nil {
			return err
		}
		return s.WriteText(cmd.OutOrStdout())
	}
	return cmd, nil
}

// MakeHistoryCommand returns the command that lists recorded runs.
func MakeHistoryCommand(ctx context.Context, name string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List runs recorded in a history database",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	if err := configToCmdFlags(cmd, &config.History{}); err != nil {
		return nil, err
	}

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg := &config.History{}
		if _, err := loadConfig(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		runCtx, err := initLogger(
			ctx,
			name,
			logging.WithLogFormat(cfg.LogFormat),
			logging.WithLogLevel(cfg.LogLevel),
		)
		if err != nil {
			return err
		}

		if _, err := os.Stat(cfg.DB); err != nil {
			return fmt.Errorf("history database: %w", err)
		}
		st, err := store.Open(runCtx, cfg.DB)
		if err != nil {
			return err
		}
		defer st.Close()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN ID\tSTARTED\tINPUT\tNODES\tNECESSARY\tCOMPLIANT\tTRUNCATED\tPREPROCESS")
		token := ""
		for {
			runs, next, err := st.ListRuns(runCtx, token, cfg.PageSize)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%t\t%t\t%s\n",
					r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Input, r.Nodes,
					r.Necessary, r.FinalCompliant, r.Truncated, r.PreprocessTime)
			}
			if next == "" {
				break
			}
			token = next
		}
		return tw.Flush()
	}
	return cmd, nil
}
