package view

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/TWRT/taskboard/internal/models"
)

func genTask(t *rapid.T, id int) models.Task {
	task := models.Task{
		ID:        fmt.Sprintf("task-%03d", id),
		Title:     rapid.SampledFrom([]string{"Fix bug", "Buy Milk", "buy bread", "Write REPORT", "call mom", ""}).Draw(t, "title"),
		Status:    rapid.SampledFrom(models.Statuses).Draw(t, "status"),
		Category:  rapid.SampledFrom([]models.Category{models.CategoryWork, models.CategoryPersonal, ""}).Draw(t, "category"),
		ImageURLs: []string{},
	}
	if rapid.Bool().Draw(t, "hasDue") {
		offset := rapid.IntRange(-10*24*60, 10*24*60).Draw(t, "dueOffsetMinutes")
		due := wednesday.Add(time.Duration(offset) * time.Minute)
		task.DueDate = &due
	}
	return task
}

func genTasks(t *rapid.T) []models.Task {
	n := rapid.IntRange(0, 25).Draw(t, "n")
	tasks := make([]models.Task, n)
	for i := range tasks {
		tasks[i] = genTask(t, i)
	}
	return tasks
}

func genFilter(t *rapid.T) Filter {
	return Filter{
		Category: rapid.SampledFrom([]string{"all", "work", "PERSONAL", ""}).Draw(t, "category"),
		DueDate:  rapid.SampledFrom([]DueBucket{DueAll, DueToday, DueTomorrow, DueThisWeek}).Draw(t, "due"),
		Search:   rapid.SampledFrom([]string{"", "buy", "MILK", "bug", "zzz"}).Draw(t, "search"),
	}
}

func genSort(t *rapid.T) Sort {
	return Sort{
		Key:       rapid.SampledFrom([]SortKey{SortName, SortDue, SortStatus, SortCategory}).Draw(t, "sortKey"),
		Direction: rapid.SampledFrom([]Direction{DirAsc, DirDesc}).Draw(t, "sortDir"),
	}
}

// satisfies is an independent restatement of the filter predicates.
func satisfies(task models.Task, f Filter, now time.Time) bool {
	if f.Category != "" && !strings.EqualFold(f.Category, "all") {
		if !strings.EqualFold(string(task.Category), f.Category) || task.Category == "" {
			return false
		}
	}
	if f.DueDate != DueAll && f.DueDate != "" {
		if task.DueDate == nil {
			return false
		}
		due := task.DueDate.In(now.Location())
		ny, nm, nd := now.Date()
		switch f.DueDate {
		case DueToday:
			y, m, d := due.Date()
			if y != ny || m != nm || d != nd {
				return false
			}
		case DueTomorrow:
			y, m, d := due.AddDate(0, 0, -1).Date()
			if y != ny || m != nm || d != nd {
				return false
			}
		case DueThisWeek:
			sunday := time.Date(ny, nm, nd-int(now.Weekday()), 0, 0, 0, 0, now.Location())
			saturdayEnd := time.Date(ny, nm, nd-int(now.Weekday())+6, 23, 59, 59, 999_999_999, now.Location())
			if due.Before(sunday) || due.After(saturdayEnd) {
				return false
			}
		}
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(task.Title), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

func idSet(tasks []models.Task) []string {
	out := ids(tasks)
	slices.Sort(out)
	return out
}

func flatten(p Partition) []models.Task {
	return slices.Concat(p.Todo, p.InProgress, p.Completed)
}

func TestProperty_DeriveSelectsExactlyTheMatchingSubset(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		f := genFilter(t)

		var want []models.Task
		for _, task := range tasks {
			if satisfies(task, f, wednesday) {
				want = append(want, task)
			}
		}

		got := flatten(Derive(tasks, f, Sort{}, wednesday))
		if !slices.Equal(idSet(got), idSet(want)) {
			t.Fatalf("got %v, want %v", idSet(got), idSet(want))
		}
	})
}

func TestProperty_DeriveIsIndependentOfInputOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		f := genFilter(t)
		shuffled := rapid.Permutation(tasks).Draw(t, "shuffled")

		a := idSet(flatten(Derive(tasks, f, Sort{}, wednesday)))
		b := idSet(flatten(Derive(shuffled, f, Sort{}, wednesday)))
		if !slices.Equal(a, b) {
			t.Fatalf("order changed the result: %v vs %v", a, b)
		}
	})
}

func TestProperty_FilterIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		f := genFilter(t)

		once := Apply(tasks, f, wednesday)
		twice := Apply(once, f, wednesday)
		if !slices.Equal(ids(once), ids(twice)) {
			t.Fatalf("once %v, twice %v", ids(once), ids(twice))
		}
	})
}

func TestProperty_PartitionIsExhaustiveAndDisjoint(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		f := genFilter(t)
		s := genSort(t)

		filtered := Apply(tasks, f, wednesday)
		p := Derive(tasks, f, s, wednesday)

		if !slices.Equal(idSet(flatten(p)), idSet(filtered)) {
			t.Fatalf("partition %v does not cover %v", idSet(flatten(p)), idSet(filtered))
		}
		seen := map[string]models.Status{}
		for _, status := range models.Statuses {
			for _, task := range p.Column(status) {
				if task.Status != status {
					t.Fatalf("task %s with status %s placed in %s", task.ID, task.Status, status)
				}
				if prev, dup := seen[task.ID]; dup {
					t.Fatalf("task %s in both %s and %s", task.ID, prev, status)
				}
				seen[task.ID] = status
			}
		}
	})
}

func TestProperty_SortIsStable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		s := genSort(t)

		sorted := slices.Clone(tasks)
		SortTasks(sorted, s)

		position := map[string]int{}
		for i, task := range tasks {
			position[task.ID] = i
		}
		equalKey := func(a, b models.Task) bool {
			switch s.Key {
			case SortName:
				return strings.EqualFold(a.Title, b.Title)
			case SortDue:
				return dueMillis(a) == dueMillis(b)
			case SortStatus:
				return a.Status == b.Status
			default:
				return strings.EqualFold(string(a.Category), string(b.Category))
			}
		}
		for i := 1; i < len(sorted); i++ {
			a, b := sorted[i-1], sorted[i]
			if equalKey(a, b) && position[a.ID] > position[b.ID] {
				t.Fatalf("tie %s/%s reordered", a.ID, b.ID)
			}
		}
	})
}

func TestProperty_PartitionKeepsSortedOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tasks := genTasks(t)
		f := genFilter(t)
		s := genSort(t)

		sorted := Apply(tasks, f, wednesday)
		SortTasks(sorted, s)
		p := Derive(tasks, f, s, wednesday)

		for _, status := range models.Statuses {
			var want []string
			for _, task := range sorted {
				if task.Status == status {
					want = append(want, task.ID)
				}
			}
			got := ids(p.Column(status))
			if len(want) == 0 && len(got) == 0 {
				continue
			}
			if !slices.Equal(got, want) {
				t.Fatalf("%s column %v, want %v", status, got, want)
			}
		}
	})
}
