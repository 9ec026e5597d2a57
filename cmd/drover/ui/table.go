package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// table renders static rows with padded columns. Cell styles are resolved
// per row through the style func so statuses can be colored.
type table struct {
	headers []string
	rows    [][]string
	// rowStyle picks the style for a whole row; nil means Body.
	rowStyle func(row []string) lipgloss.Style
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) view(styles Styles) string {
	if len(t.rows) == 0 {
		return styles.Muted.Render("  (no tasks)")
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := lipgloss.Width(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	var sb strings.Builder
	for i, h := range t.headers {
		sb.WriteString(styles.Header.Width(widths[i] + 2).Render(h))
	}
	sb.WriteString("\n")
	sb.WriteString(styles.Muted.Render(strings.Repeat("─", totalWidth(widths))))
	sb.WriteString("\n")

	for _, row := range t.rows {
		style := styles.Body
		if t.rowStyle != nil {
			style = t.rowStyle(row)
		}
		for i, cell := range row {
			if i < len(widths) {
				sb.WriteString(style.Width(widths[i] + 2).Render(cell))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func totalWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	return total
}
