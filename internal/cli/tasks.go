package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TWRT/taskboard/internal/board"
	"github.com/TWRT/taskboard/internal/client/blob"
	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/view"
)

// viewFlags are the filter and sort options shared by board, list and show.
type viewFlags struct {
	category string
	due      string
	search   string
	sort     string
	dir      string
	collapse []string
}

func (f *viewFlags) register(cmd *cobra.Command, withSort bool) {
	cmd.Flags().StringVarP(&f.category, "category", "c", view.CategoryAll, "category: all, work or personal")
	cmd.Flags().StringVarP(&f.due, "due", "d", string(view.DueAll), "due date: all, today, tomorrow or this-week")
	cmd.Flags().StringVarP(&f.search, "search", "q", "", "only tasks whose title contains this text")
	if withSort {
		cmd.Flags().StringVar(&f.sort, "sort", "", "sort by name, due, status or category")
		cmd.Flags().StringVar(&f.dir, "dir", "", "sort direction: asc or desc (default asc)")
		cmd.Flags().StringSliceVar(&f.collapse, "collapse", nil, "status sections to collapse")
	}
}

func (f *viewFlags) apply(ctrl *board.Controller) error {
	filter, err := view.ParseFilter(f.category, f.due, f.search)
	if err != nil {
		return err
	}
	ctrl.SetFilter(filter)

	key, err := view.ParseSortKey(f.sort)
	if err != nil {
		return err
	}
	dir, err := view.ParseDirection(f.dir)
	if err != nil {
		return err
	}
	switch {
	case key == view.SortNone:
	case dir == view.DirNone:
		ctrl.CycleSort(key)
	default:
		ctrl.SetSort(view.Sort{Key: key, Direction: dir})
	}

	for _, raw := range f.collapse {
		status, err := models.ParseStatus(raw)
		if err != nil {
			return err
		}
		if ctrl.Expanded(status) {
			ctrl.ToggleSection(status)
		}
	}
	return nil
}

func (a *App) renderView(ctx context.Context, flags *viewFlags, mode models.ViewMode) error {
	ws, err := a.open(ctx, true)
	if err != nil {
		return err
	}
	if err := flags.apply(ws.ctrl); err != nil {
		return err
	}

	now := a.Now()
	p := ws.ctrl.View(now)
	return a.emit(p, func() string {
		if mode == models.ViewBoard {
			return renderBoard(p, now)
		}
		return renderList(p, ws.ctrl.Expanded, ws.ctrl.Sort(), now)
	})
}

func (a *App) boardCmd() *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show tasks as a kanban board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.renderView(cmd.Context(), &flags, models.ViewBoard)
		},
	}
	flags.register(cmd, false)
	return cmd
}

func (a *App) listCmd() *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show tasks grouped by status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.renderView(cmd.Context(), &flags, models.ViewList)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func (a *App) showCmd() *cobra.Command {
	var flags viewFlags
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show tasks in your saved view mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.connect()
			if err != nil {
				return err
			}
			prefs, err := client.GetPreferences(cmd.Context(), "")
			if err != nil {
				return err
			}
			return a.renderView(cmd.Context(), &flags, prefs.View)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func (a *App) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.connect()
			if err != nil {
				return err
			}
			task, err := client.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(task, func() string { return renderTask(task, a.Now()) })
		},
	}
}

func (a *App) addCmd() *cobra.Command {
	var category, status, due, description string
	var images []string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := models.Task{
				ID:          uuid.NewString(),
				Title:       strings.Join(args, " "),
				Description: description,
			}

			var err error
			if task.Status, err = models.ParseStatus(status); err != nil {
				return err
			}
			if category != "" {
				if task.Category, err = models.ParseCategory(category); err != nil {
					return err
				}
			}
			if due != "" {
				if task.DueDate, err = parseDue(due, a.Now()); err != nil {
					return err
				}
			}
			if err := task.Validate(); err != nil {
				return err
			}

			uploads, err := readImages(images)
			if err != nil {
				return err
			}

			ws, err := a.open(cmd.Context(), false)
			if err != nil {
				return err
			}
			if len(uploads) > 0 {
				// Uploads bypass the cache: the server owns the image URLs.
				if task, err = ws.client.CreateTaskWithImages(cmd.Context(), task, uploads); err != nil {
					return err
				}
			} else {
				if err := ws.cache.Add(cmd.Context(), ws.key, task); err != nil {
					return err
				}
				task = ws.cache.Tasks(ws.key)[0]
			}
			return a.emit(task, func() string {
				return fmt.Sprintf("Created %s %q\n", task.ID, plainTitle(task.Title))
			})
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "work or personal")
	cmd.Flags().StringVarP(&status, "status", "s", string(models.StatusTodo), "todo, in-progress or completed")
	cmd.Flags().StringVarP(&due, "due", "d", "", "due date: YYYY-MM-DD, RFC 3339, today or tomorrow")
	cmd.Flags().StringVar(&description, "description", "", "longer description")
	cmd.Flags().StringSliceVarP(&images, "image", "i", nil, "image file to attach (jpeg, png or webp; repeatable)")
	return cmd
}

func (a *App) editCmd() *cobra.Command {
	var title, status, category, due, description string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch models.Patch
			flags := cmd.Flags()
			if flags.Changed("title") {
				patch.Title = &title
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("status") {
				s, err := models.ParseStatus(status)
				if err != nil {
					return err
				}
				patch.Status = &s
			}
			if flags.Changed("category") {
				c, err := models.ParseCategory(category)
				if err != nil {
					return err
				}
				patch.Category = &c
			}
			if flags.Changed("due") {
				d, err := parseDue(due, a.Now())
				if err != nil {
					return err
				}
				patch.DueDate = d
			}
			patch.ClearDueDate = clearDue
			if patch.IsEmpty() {
				return errors.New("nothing to change: pass at least one field flag")
			}
			if err := patch.Validate(); err != nil {
				return err
			}

			ws, err := a.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			if _, missing := pick(ws.cache.Tasks(ws.key), args); len(missing) > 0 {
				return notFound(missing)
			}
			if err := ws.cache.Update(cmd.Context(), ws.key, args[0], patch); err != nil {
				return err
			}
			return a.emitChanged(ws, args, "Updated")
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&status, "status", "s", "", "todo, in-progress or completed")
	cmd.Flags().StringVarP(&category, "category", "c", "", "work or personal")
	cmd.Flags().StringVarP(&due, "due", "d", "", "due date: YYYY-MM-DD, RFC 3339, today or tomorrow")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "remove the due date")
	cmd.Flags().StringVar(&description, "description", "", "longer description")
	cmd.MarkFlagsMutuallyExclusive("due", "clear-due")
	return cmd
}

func (a *App) moveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a task to another column",
		Long: `Move a task to another column, as if its card had been dragged there.
Moving a task onto the column it is already in does nothing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := models.ParseStatus(args[1])
			if err != nil {
				return err
			}
			ws, err := a.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			found, missing := pick(ws.cache.Tasks(ws.key), args[:1])
			if len(missing) > 0 {
				return notFound(missing)
			}

			drop := board.DropEvent{TaskID: found[0].ID, Origin: found[0].Status, Target: target}
			if err := ws.ctrl.Drop(cmd.Context(), drop); err != nil {
				return err
			}
			return a.emitChanged(ws, args[:1], "Moved")
		},
	}
}

func (a *App) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <status> <id>...",
		Short: "Set the status of several tasks at once",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := models.ParseStatus(args[0])
			if err != nil {
				return err
			}
			ws, ids, err := a.selectTasks(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			if err := ws.ctrl.ChangeSelectedStatus(cmd.Context(), status); err != nil {
				return err
			}
			return a.emitChanged(ws, ids, "Updated")
		},
	}
}

func (a *App) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete tasks",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, ids, err := a.selectTasks(cmd.Context(), args)
			if err != nil {
				return err
			}
			if err := ws.ctrl.DeleteSelected(cmd.Context()); err != nil {
				return err
			}
			return a.emit(map[string][]string{"deleted": ids}, func() string {
				return fmt.Sprintf("Deleted %s\n", strings.Join(ids, ", "))
			})
		},
	}
}

// selectTasks loads the list and selects ids in the controller. Every id must
// exist.
func (a *App) selectTasks(ctx context.Context, args []string) (*workspace, []string, error) {
	ws, err := a.open(ctx, true)
	if err != nil {
		return nil, nil, err
	}
	ids := slices.Compact(slices.Sorted(slices.Values(args)))
	if _, missing := pick(ws.cache.Tasks(ws.key), ids); len(missing) > 0 {
		return nil, nil, notFound(missing)
	}
	for _, id := range ids {
		ws.ctrl.ToggleSelect(id)
	}
	return ws, ids, nil
}

func (a *App) emitChanged(ws *workspace, ids []string, verb string) error {
	tasks, _ := pick(ws.cache.Tasks(ws.key), ids)
	return a.emit(tasks, func() string {
		var b strings.Builder
		for _, t := range tasks {
			fmt.Fprintf(&b, "%s %s %q → %s\n", verb, t.ID, plainTitle(t.Title), columnTitles[t.Status])
		}
		return b.String()
	})
}

// pick returns the tasks with the given ids in ids order, and the ids that
// were not found.
func pick(tasks []models.Task, ids []string) (found []models.Task, missing []string) {
	for _, id := range ids {
		i := slices.IndexFunc(tasks, func(t models.Task) bool { return t.ID == id })
		if i < 0 {
			missing = append(missing, id)
			continue
		}
		found = append(found, tasks[i])
	}
	return found, missing
}

func notFound(ids []string) error {
	return fmt.Errorf("task not found: %s", strings.Join(ids, ", "))
}

// parseDue accepts a calendar date (midnight local time), an RFC 3339
// instant, or the words today and tomorrow.
func parseDue(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	y, m, d := now.Date()
	var due time.Time
	switch strings.ToLower(raw) {
	case "today":
		due = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case "tomorrow":
		due = time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
	default:
		var err error
		if due, err = time.ParseInLocation(time.DateOnly, raw, now.Location()); err != nil {
			if due, err = time.Parse(time.RFC3339, raw); err != nil {
				return nil, fmt.Errorf("invalid due date %q: want YYYY-MM-DD, RFC 3339, today or tomorrow", raw)
			}
		}
	}
	return &due, nil
}

// readImages loads image files and validates them before anything is sent.
func readImages(paths []string) ([]blob.Upload, error) {
	uploads := make([]blob.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(p)))
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			contentType = contentType[:i]
		}
		uploads = append(uploads, blob.Upload{Name: filepath.Base(p), ContentType: contentType, Data: data})
	}
	if err := blob.ValidateAll(uploads); err != nil {
		return nil, err
	}
	return uploads, nil
}
