package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Iron-Ham/relay/internal/emitter"
	"github.com/Iron-Ham/relay/internal/orchestrator"
	"github.com/Iron-Ham/relay/internal/util"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	stepStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

// maxLineWidth bounds instruction and worker output previews.
const maxLineWidth = 120

// progressPrinter renders progress updates as a scrolling log. Updates are
// cumulative snapshots, so only steps not yet printed for an agent are shown.
type progressPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed map[string]int // agent name -> steps already shown
}

var _ emitter.Sink = (*progressPrinter)(nil)

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, printed: make(map[string]int)}
}

// Send implements emitter.Sink.
func (p *progressPrinter) Send(_ context.Context, u emitter.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	seen, ok := p.printed[u.AgentName]
	if !ok || len(u.Steps) < seen {
		seen = 0
		sb.WriteString(headerStyle.Render("▸ " + u.AgentName))
		if u.Instructions != "" {
			sb.WriteString(" ")
			sb.WriteString(util.TruncateANSI(util.OneLine(u.Instructions), maxLineWidth))
		}
		sb.WriteString("\n")
	}
	for _, step := range u.Steps[seen:] {
		sb.WriteString(stepStyle.Render("  • " + util.TruncateANSI(util.OneLine(step), maxLineWidth)))
		sb.WriteString("\n")
	}
	p.printed[u.AgentName] = len(u.Steps)

	if u.Terminal() {
		delete(p.printed, u.AgentName)
		sb.WriteString(p.verdict(u))
	}

	_, err := io.WriteString(p.w, sb.String())
	return err
}

func (p *progressPrinter) verdict(u emitter.Update) string {
	mark, style := "✓", successStyle
	if u.StatusCode != emitter.StatusSuccess {
		mark, style = "✗", failureStyle
	}
	line := style.Render(fmt.Sprintf("%s %s (%d)", mark, u.AgentName, u.StatusCode))

	output := strings.TrimSpace(u.Output)
	if output == "" {
		return line + "\n"
	}
	// The session's final answer is shown in full.
	if u.AgentName == orchestrator.AgentName {
		return line + "\n\n" + output + "\n"
	}
	return line + " " + util.TruncateANSI(util.OneLine(output), maxLineWidth) + "\n"
}
