package cli

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/view"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"

	columnWidth = 34
)

var (
	columnTitles = map[models.Status]string{
		models.StatusTodo:       "Todo",
		models.StatusInProgress: "In Progress",
		models.StatusCompleted:  "Completed",
	}

	columnColors = map[models.Status]lipgloss.Color{
		models.StatusTodo:       lipgloss.Color("213"),
		models.StatusInProgress: lipgloss.Color("117"),
		models.StatusCompleted:  lipgloss.Color("120"),
	}

	columnStyle = lipgloss.NewStyle().
			Width(columnWidth).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cardStyle   = lipgloss.NewStyle().MarginBottom(1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	overdue     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	markupTag = regexp.MustCompile(`<[^>]*>`)
	titleCase = cases.Title(language.English)
)

func validOutput(format string) error {
	switch format {
	case OutputTable, OutputJSON, OutputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

// encode writes v as JSON or YAML. It reports false for the table format so
// the caller can render instead.
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	}
	return false, nil
}

// plainTitle strips the rich-text markup titles are stored with.
func plainTitle(title string) string {
	return strings.TrimSpace(html.UnescapeString(markupTag.ReplaceAllString(title, "")))
}

func categoryLabel(c models.Category) string {
	if c == "" {
		return "-"
	}
	return titleCase.String(strings.ToLower(string(c)))
}

// relativeDue renders a due date the way the task cards do: the calendar date
// followed by the distance from now.
func relativeDue(due *time.Time, now time.Time) string {
	if due == nil {
		return "No Due Date"
	}
	return fmt.Sprintf("%s (%s)", due.In(now.Location()).Format("Jan 02, 2006"), humanize.RelTime(*due, now, "ago", "from now"))
}

func dueStyle(t models.Task, now time.Time) lipgloss.Style {
	if t.DueDate != nil && t.DueDate.Before(now) && t.Status != models.StatusCompleted {
		return overdue
	}
	return mutedStyle
}

// renderBoard lays the partition out as three side-by-side columns.
func renderBoard(p view.Partition, now time.Time) string {
	columns := make([]string, 0, len(models.Statuses))
	for _, status := range models.Statuses {
		tasks := p.Column(status)
		header := headerStyle.
			Background(columnColors[status]).
			Foreground(lipgloss.Color("0")).
			Render(fmt.Sprintf("%s (%d)", columnTitles[status], len(tasks)))

		cards := []string{header, ""}
		if len(tasks) == 0 {
			cards = append(cards, mutedStyle.Render("No tasks"))
		}
		for _, t := range tasks {
			cards = append(cards, cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
				plainTitle(t.Title),
				mutedStyle.Render(categoryLabel(t.Category)+" · "+t.ID),
				dueStyle(t, now).Render(relativeDue(t.DueDate, now)),
			)))
		}
		columns = append(columns, columnStyle.Render(lipgloss.JoinVertical(lipgloss.Left, cards...)))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, columns...) + "\n"
}

// renderList prints one table per status section. A collapsed section shows
// only its header.
func renderList(p view.Partition, expanded func(models.Status) bool, s view.Sort, now time.Time) string {
	var b strings.Builder
	if s.Active() {
		fmt.Fprintf(&b, "%s\n\n", mutedStyle.Render(fmt.Sprintf("sorted by %s %s", s.Key, s.Direction)))
	}
	for _, status := range models.Statuses {
		tasks := p.Column(status)
		marker := "▾"
		if !expanded(status) {
			marker = "▸"
		}
		fmt.Fprintln(&b, headerStyle.
			Background(columnColors[status]).
			Foreground(lipgloss.Color("0")).
			Render(fmt.Sprintf("%s %s (%d)", marker, columnTitles[status], len(tasks))))
		if !expanded(status) {
			fmt.Fprintln(&b)
			continue
		}
		if len(tasks) == 0 {
			fmt.Fprintf(&b, "%s\n\n", mutedStyle.Render("No Tasks in "+columnTitles[status]))
			continue
		}

		tbl := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(mutedStyle).
			Headers("ID", "TASK NAME", "DUE ON", "CATEGORY")
		for _, t := range tasks {
			tbl.Row(t.ID, plainTitle(t.Title), relativeDue(t.DueDate, now), categoryLabel(t.Category))
		}
		fmt.Fprintf(&b, "%s\n\n", tbl.Render())
	}
	return b.String()
}

func renderTask(t models.Task, now time.Time) string {
	lines := []string{
		headerStyle.Render(plainTitle(t.Title)),
		fmt.Sprintf("id:        %s", t.ID),
		fmt.Sprintf("status:    %s", columnTitles[t.Status]),
		fmt.Sprintf("category:  %s", categoryLabel(t.Category)),
		fmt.Sprintf("due:       %s", relativeDue(t.DueDate, now)),
		fmt.Sprintf("updated:   %s", humanize.RelTime(t.UpdatedAt, now, "ago", "from now")),
	}
	if t.Description != "" {
		lines = append(lines, "", t.Description)
	}
	for _, url := range t.ImageURLs {
		lines = append(lines, mutedStyle.Render(url))
	}
	return strings.Join(lines, "\n") + "\n"
}
