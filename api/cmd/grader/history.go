package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"exam-grader/api/internal/app"
	"exam-grader/api/internal/prompt"
	"exam-grader/api/internal/util"
)

func openHistory(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, cliLogger(), true)
	if err != nil {
		return nil, err
	}
	if a.Repo == nil {
		a.Close()
		return nil, errors.New("no database configured: set DATABASE_URL")
	}
	return a, nil
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent gradings",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.Repo.Recent(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tBACKEND\tSCORE\tQUESTION")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%g/%g\t%s\n",
					r.ID, r.CreatedAt.Format(time.RFC3339), r.Backend,
					r.Result.TotalScore, r.Result.MaxScore, util.Truncate(r.Question, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of gradings to show")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete gradings older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return errors.New("--days must be > 0")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			a, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Repo.PurgeOlderThan(ctx, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d grading(s)\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "retention in days")
	return cmd
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of a grading result",
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(prompt.ResultSchema())
		},
	}
}
