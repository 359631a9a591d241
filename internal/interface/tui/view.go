package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jinford/docqa/internal/interface/api"
)

const (
	headerHeight = 2
	inputHeight  = 4
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(2)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	status := "Enter to send, PgUp/PgDn to scroll, Ctrl+C to quit"
	switch {
	case m.waiting:
		status = "Thinking..."
	case m.ingesting():
		status = fmt.Sprintf("Ingestion status: %s...", m.taskStatus)
	}

	return titleStyle.Render("docqa chat") + "\n" +
		m.viewport.View() + "\n" +
		inputBoxStyle.Render(m.input.View()) + "\n" +
		hintStyle.Render(status)
}

func renderTranscript(transcript []ChatExchange, width int) string {
	if len(transcript) == 0 {
		return hintStyle.Render("Ask a question about your documents, or upload one with /upload <path>.")
	}

	body := lipgloss.NewStyle().Width(max(20, width))
	var b strings.Builder
	for i, e := range transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		if e.Role == RoleUser {
			b.WriteString(userStyle.Render("You") + "\n")
		} else {
			b.WriteString(assistantStyle.Render("Assistant") + "\n")
		}
		b.WriteString(body.Render(e.Content) + "\n")

		for _, s := range e.Sources {
			b.WriteString(sourceStyle.Render(formatSourceLine(s)) + "\n")
			b.WriteString(sourceStyle.Width(max(20, width)).Render(Preview(s.Content, PreviewLength)) + "\n")
		}
	}
	return b.String()
}

func formatSourceLine(s api.SourceDocument) string {
	page := "N/A"
	if s.Page != nil {
		page = fmt.Sprintf("%d", *s.Page)
	}
	return fmt.Sprintf("Source: %s - Page: %s", s.Source, page)
}

// Preview は先頭 limit 文字に切り詰め、切り詰めた場合は "..." を付ける
func Preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
