package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/logging"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the debug log",
	Long: `View and filter relay's debug log.

Examples:
  # Show the last 50 entries
  relay logs

  # Show everything for one session
  relay logs -s 2f0c... -n 0

  # Follow the log in real-time
  relay logs -f

  # Only warnings and errors from the last hour
  relay logs --level warn --since 1h

  # Entries for one worker matching a pattern
  relay logs --worker "Executor Agent" --grep "timeout|exit"`,
	RunE: runLogs,
}

var (
	logsSessionID string
	logsWorker    string
	logsPhase     string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "Only entries for this session ID")
	logsCmd.Flags().StringVar(&logsWorker, "worker", "", "Only entries for this worker")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Only entries for this phase (planning, selecting, executing, ...)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter entries matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format: text, json")
}

var levelStyles = map[string]lipgloss.Style{
	logging.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280")),
	logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6")),
	logging.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
	logging.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
}

var (
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	fieldStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4"))
)

// logQuery is the parsed form of the command's filter flags.
type logQuery struct {
	filter logging.LogFilter
	grep   *regexp.Regexp
}

func runLogs(cmd *cobra.Command, args []string) error {
	logPath := filepath.Join(config.Get().LogDir(), logging.LogFileName)
	out := cmd.OutOrStdout()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintln(out, "No logs found.")
		fmt.Fprintln(out, "Logs are stored at:", logPath)
		return nil
	}

	q, err := parseLogQuery()
	if err != nil {
		return err
	}

	if logsFollow {
		return followLogs(cmd.Context(), out, logPath, q)
	}

	entries, err := logging.ReadLogFile(logPath)
	if err != nil {
		return err
	}
	entries = q.apply(entries)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	if logsFormat == "json" {
		return logging.WriteLogs(out, entries, "json")
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(out, formatLogEntry(e))
	}
	return nil
}

func parseLogQuery() (logQuery, error) {
	q := logQuery{filter: logging.LogFilter{
		SessionID: logsSessionID,
		WorkerID:  logsWorker,
		Phase:     logsPhase,
	}}
	if logsLevel != "" {
		q.filter.Level = logging.ParseLevel(logsLevel)
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return q, fmt.Errorf("invalid duration format: %w", err)
		}
		q.filter.StartTime = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return q, fmt.Errorf("invalid grep pattern: %w", err)
		}
		q.grep = re
	}
	return q, nil
}

func (q logQuery) apply(entries []logging.LogEntry) []logging.LogEntry {
	entries = logging.FilterLogs(entries, q.filter)
	if q.grep == nil {
		return entries
	}
	var out []logging.LogEntry
	for _, e := range entries {
		if q.matchGrep(e) {
			out = append(out, e)
		}
	}
	return out
}

// matchGrep searches the message and attribute values.
func (q logQuery) matchGrep(e logging.LogEntry) bool {
	if q.grep == nil {
		return true
	}
	text := e.Message
	for _, v := range e.Attrs {
		text += " " + fmt.Sprintf("%v", v)
	}
	return q.grep.MatchString(text)
}

// formatLogEntry renders an entry for the terminal.
func formatLogEntry(e logging.LogEntry) string {
	var sb strings.Builder

	sb.WriteString(timeStyle.Render("[" + e.Timestamp.Local().Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	level := strings.ToUpper(e.Level)
	if style, ok := levelStyles[level]; ok {
		sb.WriteString(style.Render("[" + level + "]"))
	} else {
		sb.WriteString("[" + level + "]")
	}
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	field := func(k string, v any) {
		sb.WriteString(" ")
		sb.WriteString(fieldStyle.Render(k + "="))
		sb.WriteString(fmt.Sprintf("%v", v))
	}
	if e.SessionID != "" {
		field("session_id", e.SessionID)
	}
	if e.WorkerID != "" {
		field("worker_id", e.WorkerID)
	}
	if e.Phase != "" {
		field("phase", e.Phase)
	}

	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field(k, e.Attrs[k])
	}
	return sb.String()
}

// followLogs implements tail -f behavior for the log file
func followLogs(ctx context.Context, out io.Writer, logPath string, q logQuery) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}

	fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	var pending string
	for {
		chunk, err := reader.ReadString('\n')
		pending += chunk
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("error reading log file: %w", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		line := strings.TrimSpace(pending)
		pending = ""
		if line == "" {
			continue
		}
		entries, _ := logging.ParseLogs(strings.NewReader(line))
		if len(entries) == 0 {
			// Not a JSON entry; show it as-is.
			fmt.Fprintln(out, line)
			continue
		}
		for _, e := range q.apply(entries) {
			fmt.Fprintln(out, formatLogEntry(e))
		}
	}
}
