// Package view computes the filtered, sorted and status-partitioned
// projections of a task set that the board and list presentations render.
//
// Everything here is a pure function of its inputs. The current time is an
// argument so that due-date buckets are deterministic under test.
package view

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/TWRT/taskboard/internal/models"
)

// CategoryAll disables the category filter.
const CategoryAll = "all"

type DueBucket string

const (
	DueAll      DueBucket = "all"
	DueToday    DueBucket = "today"
	DueTomorrow DueBucket = "tomorrow"
	DueThisWeek DueBucket = "this-week"
)

func ParseDueBucket(raw string) (DueBucket, error) {
	switch b := DueBucket(strings.ToLower(strings.TrimSpace(raw))); b {
	case "":
		return DueAll, nil
	case DueAll, DueToday, DueTomorrow, DueThisWeek:
		return b, nil
	}
	return "", fmt.Errorf("unknown due-date filter %q", raw)
}

// Filter is the presentation-held filter configuration. The zero value
// matches every task.
type Filter struct {
	Category string    `json:"category"`
	DueDate  DueBucket `json:"dueDate"`
	Search   string    `json:"searchQuery"`
}

// ParseFilter normalizes raw user input into a Filter.
func ParseFilter(category, due, search string) (Filter, error) {
	bucket, err := ParseDueBucket(due)
	if err != nil {
		return Filter{}, err
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = CategoryAll
	}
	return Filter{Category: category, DueDate: bucket, Search: search}, nil
}

type SortKey string

const (
	SortNone     SortKey = ""
	SortName     SortKey = "name"
	SortDue      SortKey = "due"
	SortStatus   SortKey = "status"
	SortCategory SortKey = "category"
)

func ParseSortKey(raw string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return SortNone, nil
	case "name", "title", "taskname":
		return SortName, nil
	case "due", "duedate", "due-date", "dueon":
		return SortDue, nil
	case "status", "taskstatus":
		return SortStatus, nil
	case "category", "taskcategory":
		return SortCategory, nil
	}
	return "", fmt.Errorf("unknown sort key %q", raw)
}

type Direction string

const (
	DirNone Direction = ""
	DirAsc  Direction = "asc"
	DirDesc Direction = "desc"
)

func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return DirNone, nil
	case "asc", "ascending":
		return DirAsc, nil
	case "desc", "descending":
		return DirDesc, nil
	}
	return "", fmt.Errorf("unknown sort direction %q", raw)
}

// Sort is the list-view sort configuration. It is inactive unless both a key
// and a direction are set.
type Sort struct {
	Key       SortKey   `json:"key"`
	Direction Direction `json:"direction"`
}

func (s Sort) Active() bool {
	return s.Key != SortNone && s.Direction != DirNone
}

// Cycle returns the configuration after a header click on key: a new key
// starts ascending, and the same key steps asc -> desc -> off.
func (s Sort) Cycle(key SortKey) Sort {
	if s.Key != key || s.Direction == DirNone {
		return Sort{Key: key, Direction: DirAsc}
	}
	if s.Direction == DirAsc {
		return Sort{Key: key, Direction: DirDesc}
	}
	return Sort{}
}

// Partition holds one ordered list per status. The lists are disjoint and
// together hold every task that passed the filter.
type Partition struct {
	Todo       []models.Task `json:"todo" yaml:"todo"`
	InProgress []models.Task `json:"inProgress" yaml:"inProgress"`
	Completed  []models.Task `json:"completed" yaml:"completed"`
}

// Column returns the list for s, or nil for an unknown status.
func (p Partition) Column(s models.Status) []models.Task {
	switch s {
	case models.StatusTodo:
		return p.Todo
	case models.StatusInProgress:
		return p.InProgress
	case models.StatusCompleted:
		return p.Completed
	}
	return nil
}

func (p Partition) Len() int {
	return len(p.Todo) + len(p.InProgress) + len(p.Completed)
}

// Derive filters tasks, sorts the survivors when s is active, and splits them
// by status. The input slice is not modified.
func Derive(tasks []models.Task, f Filter, s Sort, now time.Time) Partition {
	out := Apply(tasks, f, now)
	if s.Active() {
		SortTasks(out, s)
	}
	return Split(out)
}

// Apply returns the tasks matching every active predicate of f, in input
// order.
func Apply(tasks []models.Task, f Filter, now time.Time) []models.Task {
	match := f.matcher(now)
	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Split partitions tasks by status, preserving order. Tasks with a status
// outside the known set are dropped.
func Split(tasks []models.Task) Partition {
	p := Partition{
		Todo:       []models.Task{},
		InProgress: []models.Task{},
		Completed:  []models.Task{},
	}
	for _, t := range tasks {
		switch t.Status {
		case models.StatusTodo:
			p.Todo = append(p.Todo, t)
		case models.StatusInProgress:
			p.InProgress = append(p.InProgress, t)
		case models.StatusCompleted:
			p.Completed = append(p.Completed, t)
		}
	}
	return p
}

func (f Filter) matcher(now time.Time) func(models.Task) bool {
	fold := cases.Fold()

	var category string
	if c := strings.TrimSpace(f.Category); c != "" && !strings.EqualFold(c, CategoryAll) {
		category = fold.String(c)
	}

	var lo, hi time.Time
	bucketed := f.DueDate != "" && f.DueDate != DueAll
	if bucketed {
		lo, hi = f.DueDate.Window(now)
	}

	query := fold.String(f.Search)

	return func(t models.Task) bool {
		if category != "" && (t.Category == "" || fold.String(string(t.Category)) != category) {
			return false
		}
		if bucketed {
			if t.DueDate == nil || t.DueDate.Before(lo) || !t.DueDate.Before(hi) {
				return false
			}
		}
		if query != "" && !strings.Contains(fold.String(t.Title), query) {
			return false
		}
		return true
	}
}

// Window returns the half-open interval [lo, hi) covered by b in now's
// location. Weeks start on Sunday.
func (b DueBucket) Window(now time.Time) (lo, hi time.Time) {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch b {
	case DueToday:
		return today, today.AddDate(0, 0, 1)
	case DueTomorrow:
		return today.AddDate(0, 0, 1), today.AddDate(0, 0, 2)
	case DueThisWeek:
		start := today.AddDate(0, 0, -int(now.Weekday()))
		return start, start.AddDate(0, 0, 7)
	}
	return time.Time{}, time.Time{}
}

// SortTasks stably sorts tasks in place by s. Tasks without a due date sort
// as the Unix epoch.
func SortTasks(tasks []models.Task, s Sort) {
	if !s.Active() {
		return
	}
	fold := cases.Fold()
	key := func(t models.Task) string {
		switch s.Key {
		case SortName:
			return fold.String(t.Title)
		case SortStatus:
			return string(t.Status)
		case SortCategory:
			return fold.String(string(t.Category))
		}
		return ""
	}

	cmpFn := func(a, b models.Task) int {
		if s.Key == SortDue {
			return cmp.Compare(dueMillis(a), dueMillis(b))
		}
		return cmp.Compare(key(a), key(b))
	}
	if s.Direction == DirDesc {
		asc := cmpFn
		cmpFn = func(a, b models.Task) int { return asc(b, a) }
	}
	slices.SortStableFunc(tasks, cmpFn)
}

func dueMillis(t models.Task) int64 {
	if t.DueDate == nil {
		return 0
	}
	return t.DueDate.UnixMilli()
}
