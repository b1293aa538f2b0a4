package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/approval"
	"github.com/ShayCichocki/taskpilot/internal/orchestrator"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var (
	runMode        string
	runYes         bool
	runInteractive bool
	runMetricsAddr string
	runWorkDir     string
	runVerbose     bool
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a task",
	Long: `Run a task until the model signals completion.

Tool calls that are not auto-approved by the auto_approval settings are
confirmed on the terminal. Use --yes to approve everything.

With --interactive, taskpilot keeps the task open after each run: type
feedback to continue it, /plan or /act to switch modes, /new <task> to
start over, or an empty line to quit.

Press Ctrl-C once to abort the running task and twice to exit.

Examples:
  taskpilot run "add a --json flag to the list command"
  taskpilot run --mode plan "how is configuration loaded?"
  taskpilot run -i`,
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "Start in plan or act mode (default from config)")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Approve every tool call without asking")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Keep the task open for feedback")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", "", "Directory the tools operate in (default: current directory)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show model reasoning")
}

func runTask(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" && !runInteractive {
		return errors.New("a task is required unless --interactive is set")
	}

	mode := models.Mode(runMode)
	if mode != "" && !mode.Valid() {
		return fmt.Errorf("invalid mode %q: use plan or act", runMode)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	var approver approval.Approver = newPromptApprover(in, out)
	if runYes {
		approver = approval.AlwaysApprove
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{
		mode:        mode,
		workDir:     runWorkDir,
		approver:    approver,
		metricsAddr: runMetricsAddr,
		out:         out,
		verbose:     runVerbose,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for n := 0; ; n++ {
			select {
			case <-sigCh:
			case <-ctx.Done():
				return
			}
			if n == 0 {
				fmt.Fprintln(out, "\nAborting task, press Ctrl-C again to exit")
				a.orch.Abort()
				continue
			}
			cancel()
			return
		}
	}()

	if !runInteractive {
		return a.orch.StartTask(ctx, task)
	}
	return interactiveLoop(ctx, a, task, in, out)
}

// interactiveLoop runs tasks and feedback read from in until an empty line,
// EOF or cancellation. Task errors are shown by the event printer.
func interactiveLoop(ctx context.Context, a *app, task string, in *bufio.Reader, out io.Writer) error {
	started := false
	if task != "" {
		a.orch.StartTask(ctx, task)
		started = true
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprintf(out, "\n[%s] > ", a.orch.Mode())
		line, err := in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		}

		switch {
		case line == "/plan" || line == "/act":
			if err := a.orch.SwitchMode(models.Mode(strings.TrimPrefix(line, "/"))); err != nil {
				fmt.Fprintf(out, "switch mode: %v\n", err)
			}
		case strings.HasPrefix(line, "/new "):
			a.orch.StartTask(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/new ")))
			started = true
		case !started:
			a.orch.StartTask(ctx, line)
			started = true
		default:
			err := a.orch.ContinueTask(ctx, line)
			if errors.Is(err, orchestrator.ErrTaskAborted) {
				fmt.Fprintln(out, "The task was aborted. Use /new <task> to start another.")
			}
		}
	}
}
