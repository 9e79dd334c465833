package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
)

// MigrationMarkdown describes a pending migration check as markdown: the
// cycle, the hash and one list item per operation, deletions flagged.
func MigrationMarkdown(pm *core.PendingMigration) string {
	if pm == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Pending migrations (cycle %d)\n\n", pm.Cycle)
	if pm.Migration.Hash != "" {
		fmt.Fprintf(&b, "Hash: `%s`\n\n", pm.Migration.Hash)
	}
	if len(pm.Migration.Operations) == 0 {
		b.WriteString("_No operations reported._\n")
		return b.String()
	}
	deletes := 0
	for _, op := range pm.Migration.Operations {
		if op.IsDelete() {
			deletes++
			fmt.Fprintf(&b, "- **%s** _(deletes data)_\n", op.Name)
			continue
		}
		fmt.Fprintf(&b, "- %s\n", op.Name)
	}
	if deletes > 0 {
		mode := "skipped"
		if pm.WithDeletes {
			mode = "applied"
		}
		fmt.Fprintf(&b, "\n%d of %d operations delete data and will be %s.\n",
			deletes, len(pm.Migration.Operations), mode)
	}
	return b.String()
}

// RenderMarkdown renders md for the terminal. Without color the notty
// style is used so the output stays plain text.
func RenderMarkdown(md string, color bool, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	style := styles.NoTTYStyleConfig
	if color {
		style = styles.DraculaStyleConfig
		style.Code = ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Color:           stringPtr("229"),
				BackgroundColor: stringPtr(""),
			},
		}
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}

func stringPtr(s string) *string { return &s }
