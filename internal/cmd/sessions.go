package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/session"
	"github.com/Iron-Ham/relay/internal/util"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect saved sessions",
	Long:  `Commands for listing, showing and deleting saved relay sessions.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, newest first",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a saved session",
	Long: `Show a saved session: the task, the plan, every worker execution and
the final answer. Use --output json or --output yaml for the full record.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a saved session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsOutput string

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	sessionsCmd.PersistentFlags().StringVarP(&sessionsOutput, "output", "o", "text", "Output format: text, json, yaml")
}

func openStore() (*session.Store, error) {
	return session.NewStore(config.Get().SessionDir())
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	summaries, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	switch sessionsOutput {
	case "json":
		return writeJSON(out, summaries)
	case "yaml":
		return writeYAML(out, summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tROUNDS\tSTARTED\tDURATION\tTASK")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
			s.ID, s.StatusCode, s.Rounds,
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.Duration.Round(time.Millisecond),
			util.TruncateString(util.OneLine(s.Task), 60))
	}
	return tw.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	res, err := store.Load(cmd.Context(), args[0])
	if errors.Is(err, errors.ErrSessionNotFound) {
		return fmt.Errorf("no saved session %q in %s", args[0], store.Dir())
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch sessionsOutput {
	case "json":
		return writeJSON(out, res)
	case "yaml":
		return writeYAML(out, res)
	}

	fmt.Fprintf(out, "Session:  %s\n", res.SessionID)
	fmt.Fprintf(out, "Task:     %s\n", res.Task)
	fmt.Fprintf(out, "Status:   %d (%s)\n", res.StatusCode, res.FinalState)
	fmt.Fprintf(out, "Rounds:   %d (replans: %d)\n", res.Rounds, res.Replans)
	fmt.Fprintf(out, "Duration: %s\n", res.Duration().Round(time.Millisecond))
	if res.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", res.Error)
	}
	if res.Plan != "" {
		fmt.Fprintf(out, "\nPlan:\n%s\n", util.Indent(strings.TrimSpace(res.Plan), "  "))
	}
	if len(res.Records) > 0 {
		fmt.Fprintln(out, "\nExecutions:")
		for _, r := range res.Records {
			mark := "ok"
			if !r.Success {
				mark = "failed"
			}
			fmt.Fprintf(out, "  %d. %s [%s] %s\n", r.Round, r.Worker, mark, util.TruncateString(util.OneLine(r.Instruction), 80))
		}
	}
	if res.Output != "" {
		fmt.Fprintf(out, "\nOutput:\n%s\n", util.Indent(strings.TrimSpace(res.Output), "  "))
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	if err := store.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML renders v as YAML using its JSON field names.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}
