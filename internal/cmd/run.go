package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/emitter"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run one orchestration session",
	Long: `Run one orchestration session for a task and stream its progress.

The task is taken from the arguments. When none are given it is read from
stdin, prompting first when stdin is a terminal.

Examples:
  relay run "What is 2+2? Write and run a program to check."
  echo "Summarize README.md" | relay run
  relay run --json "List the Go files in this directory" > result.json`,
	RunE: runRun,
}

var (
	runJSON      bool
	runMaxRounds int
	runNoSave    bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the session result as JSON instead of streaming progress")
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", -1, "Override orchestration.max_rounds for this run (0 = unlimited)")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Do not persist the session")
}

func runRun(cmd *cobra.Command, args []string) error {
	task, err := readTask(args, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if runNoSave {
		cfg.Sessions.Persist = false
	}

	var opts []orchestrator.Option
	if runMaxRounds >= 0 {
		opts = append(opts, orchestrator.WithMaxRounds(runMaxRounds))
	}

	rt, err := newRuntime(cfg, opts...)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var sinks []emitter.Sink
	if !runJSON {
		sinks = append(sinks, newProgressPrinter(out))
	}

	res := rt.orch.Run(ctx, task, sinks...)
	if err := rt.save(context.WithoutCancel(ctx), res); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: session not saved: %v\n", err)
	}

	if runJSON {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else if rt.store != nil {
		fmt.Fprintf(out, "\nSession %s saved to %s\n", res.SessionID, rt.store.Dir())
	}

	if !res.Succeeded() {
		return fmt.Errorf("session %s failed: %s", res.SessionID, res.Error)
	}
	return nil
}

// readTask joins args into the task, falling back to stdin.
func readTask(args []string, in io.Reader, prompt io.Writer) (string, error) {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task != "" {
		return task, nil
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(f.Fd()) {
		fmt.Fprint(prompt, "Task: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read task: %w", err)
		}
		task = strings.TrimSpace(line)
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read task from stdin: %w", err)
		}
		task = strings.TrimSpace(string(data))
	}

	if task == "" {
		return "", fmt.Errorf("a task is required")
	}
	return task, nil
}
