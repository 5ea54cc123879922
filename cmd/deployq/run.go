package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VsevolodSauta/jobqueue"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runStartDisabled bool
	runShutdownGrace time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run PLAN.yaml",
	Short: "Run the jobs of a plan",
	Long: `Run enqueues every job of the plan and waits until all of them are done.

An interrupt (SIGINT or SIGTERM) turns the start switch off, cancels the jobs
still waiting in their queues and kills the running ones.

With --start-disabled the start switch begins off: jobs that would start
immediately are dropped, nothing is queued behind them.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runStartDisabled, "start-disabled", false, "Start with the start switch turned off")
	runCmd.Flags().DurationVar(&runShutdownGrace, "shutdown-grace", 10*time.Second, "How long to wait for killed jobs after an interrupt")
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, err := LoadPlanFile(args[0])
	if err != nil {
		return err
	}

	journal, err := openJournal(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Error("runPlan: failed to close journal", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitor := jobqueue.NewJanitor(journal, cfg, logger)
	if err := janitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start janitor: %w", err)
	}
	defer janitor.Stop()

	startSwitch := jobqueue.NewStartSwitch(cfg.StartEnabled && !runStartDisabled)
	queue := jobqueue.NewJobQueue(startSwitch, logger,
		jobqueue.WithJournal(journal),
		jobqueue.WithJournalTimeout(cfg.JournalTimeout),
	)

	// Commands outlive ctx so an interrupt can clear the queues before
	// killing what is running.
	execCtx, killAll := context.WithCancel(context.Background())
	defer killAll()

	out := newOutputMux(cmd.OutOrStdout())
	commands := make([]*jobqueue.CommandExecution, 0, len(plan.Jobs))
	for _, job := range plan.Jobs {
		command := jobqueue.NewCommandExecution(execCtx, job.ID, job.Argv(),
			jobqueue.WithDir(job.Dir),
			jobqueue.WithEnv(job.Environ()),
			jobqueue.WithOutput(out.writer(job.ID)),
		)
		if err := queue.Enqueue(command, jobqueue.WithQueue(job.QueueKey())); err != nil {
			return fmt.Errorf("failed to enqueue job %d: %w", job.ID, err)
		}
		commands = append(commands, command)
	}
	logger.Info("runPlan: plan enqueued", "jobs", len(commands), "startEnabled", startSwitch.Enabled())

	g, gctx := errgroup.WithContext(ctx)
	for _, command := range commands {
		g.Go(func() error {
			return queue.Wait(gctx, command.ID())
		})
	}
	waitErr := g.Wait()

	if waitErr != nil {
		logger.Warn("runPlan: interrupted, cancelling jobs", "error", waitErr)
		startSwitch.Disable()
		queue.Clear()
		killAll()

		graceCtx, cancel := context.WithTimeout(context.Background(), runShutdownGrace)
		defer cancel()
		for _, command := range commands {
			if err := queue.Wait(graceCtx, command.ID()); err != nil {
				logger.Error("runPlan: job did not stop in time", "jobID", command.ID(), "error", err)
				break
			}
		}
	}
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), cfg.JournalTimeout)
	defer cancelFlush()
	if err := queue.Flush(flushCtx); err != nil {
		logger.Error("runPlan: journal writes still pending", "error", err)
	}
	out.flush()

	failed := printSummary(cmd.OutOrStdout(), plan, commands)
	if waitErr != nil {
		return fmt.Errorf("interrupted: %w", waitErr)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs did not finish successfully", failed, len(commands))
	}
	return nil
}

// jobOutcome names what happened to a command once the queue released it.
func jobOutcome(command *jobqueue.CommandExecution) string {
	switch command.State() {
	case jobqueue.CommandStateNew:
		return "dropped"
	case jobqueue.CommandStateCancelled:
		return "cancelled"
	case jobqueue.CommandStateRunning:
		return "running"
	}
	if command.Err() != nil {
		return "failed"
	}
	return "ok"
}

func printSummary(w io.Writer, plan *Plan, commands []*jobqueue.CommandExecution) int {
	failed := 0
	fmt.Fprintln(w, "ID\tQUEUE\tRESULT")
	for i, command := range commands {
		outcome := jobOutcome(command)
		if outcome != "ok" {
			failed++
		}
		line := fmt.Sprintf("%d\t%s\t%s", command.ID(), plan.Jobs[i].QueueKey(), outcome)
		if err := command.Err(); err != nil && !errors.Is(err, jobqueue.ErrCommandCancelled) {
			line += "\t" + err.Error()
		}
		fmt.Fprintln(w, line)
	}
	return failed
}
