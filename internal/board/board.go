// Package board holds the presentation state shared by the board and list
// views and turns user gestures into cache mutations.
package board

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/TWRT/taskboard/internal/cache"
	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/view"
)

// Updater is the slice of the cache a drop needs.
type Updater interface {
	BulkUpdate(ctx context.Context, key cache.QueryKey, ids []string, patch models.Patch) error
}

// DropEvent is a card released over a column. An empty Target means the card
// was dropped outside any column.
type DropEvent struct {
	TaskID string
	Origin models.Status
	Target models.Status
}

// Moves reports whether the drop changes the task's status.
func (e DropEvent) Moves() bool {
	return e.TaskID != "" && e.Target != "" && e.Origin != e.Target
}

// HandleDrop reassigns the dropped task to the target column. A drop back onto
// its own column, or outside every column, makes no call.
func HandleDrop(ctx context.Context, u Updater, key cache.QueryKey, e DropEvent) error {
	if !e.Moves() {
		return nil
	}
	if !e.Target.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidStatus, e.Target)
	}
	return u.BulkUpdate(ctx, key, []string{e.TaskID}, models.StatusPatch(e.Target))
}

// Controller is the state behind one rendered view: the filter, the list
// sort, which rows are selected and which status sections are collapsed.
type Controller struct {
	cache *cache.Cache
	key   cache.QueryKey

	mu        sync.Mutex
	filter    view.Filter
	sort      view.Sort
	selected  []string
	collapsed map[models.Status]bool
}

func NewController(c *cache.Cache, key cache.QueryKey) *Controller {
	return &Controller{
		cache:     c,
		key:       key,
		filter:    view.Filter{Category: view.CategoryAll, DueDate: view.DueAll},
		collapsed: make(map[models.Status]bool),
	}
}

func (c *Controller) Key() cache.QueryKey {
	return c.key
}

// Drop handles a drag-and-drop release against the controller's list.
func (c *Controller) Drop(ctx context.Context, e DropEvent) error {
	return HandleDrop(ctx, c.cache, c.key, e)
}

// ToggleSelect adds id to the selection or removes it if already selected.
func (c *Controller) ToggleSelect(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := slices.Index(c.selected, id); i >= 0 {
		c.selected = slices.Delete(c.selected, i, i+1)
		return
	}
	c.selected = append(c.selected, id)
}

func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.selected = nil
	c.mu.Unlock()
}

// Selected returns the selected ids in the order they were picked.
func (c *Controller) Selected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.selected)
}

// ChangeSelectedStatus moves every selected task to status and clears the
// selection, whether or not the remote calls succeed.
func (c *Controller) ChangeSelectedStatus(ctx context.Context, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidStatus, status)
	}
	ids := c.takeSelection()
	if len(ids) == 0 {
		return nil
	}
	return c.cache.BulkUpdate(ctx, c.key, ids, models.StatusPatch(status))
}

// DeleteSelected deletes every selected task and clears the selection.
func (c *Controller) DeleteSelected(ctx context.Context) error {
	ids := c.takeSelection()
	if len(ids) == 0 {
		return nil
	}
	return c.cache.BulkDelete(ctx, c.key, ids)
}

func (c *Controller) takeSelection() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.selected
	c.selected = nil
	return ids
}

// CycleSort applies a header click on key and returns the new sort.
func (c *Controller) CycleSort(key view.SortKey) view.Sort {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sort = c.sort.Cycle(key)
	return c.sort
}

func (c *Controller) SetSort(s view.Sort) {
	c.mu.Lock()
	c.sort = s
	c.mu.Unlock()
}

func (c *Controller) Sort() view.Sort {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sort
}

func (c *Controller) SetFilter(f view.Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *Controller) Filter() view.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// ToggleSection collapses or expands the list section for status and reports
// whether it is now expanded. Sections start expanded.
func (c *Controller) ToggleSection(status models.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collapsed[status] = !c.collapsed[status]
	return !c.collapsed[status]
}

func (c *Controller) Expanded(status models.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.collapsed[status]
}

// View derives the current projection of the cached list.
func (c *Controller) View(now time.Time) view.Partition {
	c.mu.Lock()
	f, s := c.filter, c.sort
	c.mu.Unlock()
	return view.Derive(c.cache.Tasks(c.key), f, s, now)
}
