package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evstation/app"
)

var seedFlag uint64

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulation and write its results",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().Uint64Var(&seedFlag, "seed", 0, "override simulation.seed")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("seed") {
		cfg.Simulation.Seed = seedFlag
	}
	res, err := app.New(cfg).Simulate(ctx)
	if err != nil {
		return err
	}
	st := res.Report.Stats
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d steps, %d reserved, %d admitted, %d rejected, %d migrated in %s\n",
		res.RunID, res.Report.Steps, st.Reserved, st.Admitted, st.Rejected, st.Migrated, res.Report.Duration)
	return err
}
