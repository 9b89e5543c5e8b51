package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/aescanero/flowfarm/internal/domain"
	"github.com/aescanero/flowfarm/internal/workflowfile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runOpts domain.RunOptions

var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Run a workflow file once against an account group and wait for it",
	Long: `run loads the workflow file, executes it against the accounts of the
group in the configured entity store and prints a summary. The first
interrupt requests a cooperative stop; the second aborts.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runOpts.Group, "group", "", "account group (required)")
	runCmd.Flags().StringSliceVar(&runOpts.Statuses, "status", nil, "only accounts in these statuses")
	runCmd.Flags().IntVar(&runOpts.Limit, "limit", 0, "maximum number of accounts (0 = all)")
	runCmd.Flags().IntVar(&runOpts.Concurrency, "concurrency", 1, "accounts per chunk")
	runCmd.Flags().Float64Var(&runOpts.StaggerSeconds, "stagger", 0, "seconds between starts within a chunk")
	runCmd.Flags().StringVar(&runOpts.ProxyGroup, "proxy-group", "", "proxy pool to draw one proxy per account from")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := initLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	wf, err := workflowfile.Load(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	if err := a.workflows.SaveWorkflow(ctx, wf); err != nil {
		return err
	}

	runID, err := a.manager.Start(ctx, wf.ID, runOpts)
	if err != nil {
		return err
	}
	logger.Info("run started", zap.String("run_id", runID))

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Warn("stop requested, finishing the current chunk")
		a.manager.Cancel(ctx, runID)
		<-sigCh
		cancel()
	}()

	run, err := a.manager.Wait(waitCtx, runID)
	if err != nil {
		return err
	}

	printSummary(cmd, run)
	if run.Status == domain.RunStatusFailed {
		return fmt.Errorf("run failed: %s", run.Error)
	}
	return nil
}

func printSummary(cmd *cobra.Command, run *domain.ExecutionRun) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s %s: %d accounts, %d succeeded, %d failed\n",
		run.ID, run.Status, run.Total,
		run.CountThreads(domain.ThreadStatusSuccess),
		run.CountThreads(domain.ThreadStatusError))

	keys := make([]string, 0, len(run.Threads))
	for k := range run.Threads {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return run.Threads[keys[i]].Index < run.Threads[keys[j]].Index })
	for _, k := range keys {
		th := run.Threads[k]
		line := fmt.Sprintf("  %-40s %s", k, th.Status)
		if th.Error != "" {
			line += "  " + th.Error
		}
		fmt.Fprintln(out, line)
	}
}
