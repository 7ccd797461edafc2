package cli

import (
	"fmt"
	"strings"
	"time"

	"jobkeeper/internal/task/cronexpr"

	"github.com/spf13/cobra"
)

func buildCronCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Cron expression helpers",
	}
	cmd.AddCommand(buildCronCheckCommand())
	return cmd
}

func buildCronCheckCommand() *cobra.Command {
	var (
		count int
		tz    string
	)
	cmd := &cobra.Command{
		Use:   "check <expr>",
		Short: "Normalize a 6-field cron expression and print the next fire times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			out := cmd.OutOrStdout()
			norm, err := cronexpr.NormalizeWithWarn(args[0], func(i int, f string) {
				fmt.Fprintf(out, "warning: field %d %q uses characters outside [0-9/*-,]\n", i, f)
			})
			if err != nil {
				return err
			}
			loc := time.Local
			if s := strings.TrimSpace(tz); s != "" {
				if loc, err = time.LoadLocation(s); err != nil {
					return fmt.Errorf("--tz: %w", err)
				}
			}
			runs, err := cronexpr.NextRuns(norm, time.Now(), count, loc)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "normalized: %s\n", norm)
			for _, r := range runs {
				fmt.Fprintln(out, r.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times to print")
	cmd.Flags().StringVar(&tz, "tz", "", "IANA time zone (default local)")
	return cmd
}
