package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TWRT/taskboard/internal/models"
)

var errUnavailable = errors.New("remote unavailable")

// fakeRemote is an in-memory task store. Calls for ids in fail return
// errUnavailable; when block is set, every mutation waits for it to close.
type fakeRemote struct {
	mu     sync.Mutex
	tasks  []models.Task
	fail   map[string]bool
	calls  []string
	block  chan struct{}
	listFn func() ([]models.Task, error)
}

func newFakeRemote(tasks ...models.Task) *fakeRemote {
	return &fakeRemote{tasks: tasks, fail: map[string]bool{}}
}

func (f *fakeRemote) enter(call, id string) (chan struct{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call+":"+id)
	return f.block, f.fail[id]
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeRemote) snapshot() []models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tasks)
}

func (f *fakeRemote) ListTasks(context.Context, string) ([]models.Task, error) {
	if f.listFn != nil {
		return f.listFn()
	}
	return f.snapshot(), nil
}

func (f *fakeRemote) CreateTask(_ context.Context, _ string, task models.Task) (models.Task, error) {
	block, fail := f.enter("create", task.ID)
	if block != nil {
		<-block
	}
	if fail {
		return models.Task{}, errUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if indexOf(f.tasks, task.ID) >= 0 {
		return models.Task{}, errors.New("duplicate")
	}
	confirmed := task.Clone()
	confirmed.Description = "confirmed"
	f.tasks = append(f.tasks, confirmed)
	return confirmed, nil
}

func (f *fakeRemote) UpdateTask(_ context.Context, _ string, id string, patch models.Patch) (models.Task, error) {
	block, fail := f.enter("update", id)
	if block != nil {
		<-block
	}
	if fail {
		return models.Task{}, errUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := indexOf(f.tasks, id)
	if i < 0 {
		return models.Task{}, errors.New("not found")
	}
	f.tasks[i] = patch.Apply(f.tasks[i], time.Now())
	return f.tasks[i], nil
}

func (f *fakeRemote) DeleteTask(_ context.Context, _ string, id string) error {
	block, fail := f.enter("delete", id)
	if block != nil {
		<-block
	}
	if fail {
		return errUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := indexOf(f.tasks, id)
	if i < 0 {
		return errors.New("not found")
	}
	f.tasks = slices.Delete(f.tasks, i, i+1)
	return nil
}

var (
	key     = QueryKey{UID: "u1"}
	created = time.Date(2026, time.October, 1, 8, 0, 0, 0, time.UTC)
	clock   = time.Date(2026, time.October, 14, 9, 30, 0, 0, time.UTC)
)

func task(id, title string, status models.Status) models.Task {
	return models.Task{
		ID:        id,
		Title:     title,
		Status:    status,
		Category:  models.CategoryWork,
		CreatedAt: created,
		UpdatedAt: created,
		ImageURLs: []string{},
	}
}

func ids(tasks []models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func newLoaded(t *testing.T, remote *fakeRemote, opts ...Option) *Cache {
	t.Helper()
	c := New(remote, append([]Option{WithClock(func() time.Time { return clock })}, opts...)...)
	_, err := c.Fetch(context.Background(), key)
	require.NoError(t, err)
	return c
}

func TestBulkUpdate_MovesTasksAndChangesNothingElse(t *testing.T) {
	remote := newFakeRemote(
		task("1", "Fix bug", models.StatusTodo),
		task("2", "Buy milk", models.StatusTodo),
		task("3", "Write report", models.StatusInProgress),
	)
	c := newLoaded(t, remote)
	before := c.Tasks(key)

	require.NoError(t, c.BulkUpdate(context.Background(), key, []string{"1", "2"}, models.StatusPatch(models.StatusCompleted)))

	after := c.Tasks(key)
	require.Len(t, after, 3)
	for i := range 2 {
		assert.Equal(t, models.StatusCompleted, after[i].Status)
		assert.Equal(t, clock, after[i].UpdatedAt)

		want := before[i]
		want.Status = models.StatusCompleted
		want.UpdatedAt = clock
		assert.Equal(t, want, after[i])
	}
	assert.Equal(t, before[2], after[2])
	assert.ElementsMatch(t, []string{"update:1", "update:2"}, remote.callLog())
}

func TestUpdate_OptimisticStateVisibleBeforeConfirmation(t *testing.T) {
	remote := newFakeRemote(task("1", "Fix bug", models.StatusTodo))
	c := newLoaded(t, remote)
	changes, unsubscribe := c.Subscribe()
	defer unsubscribe()

	remote.block = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Update(context.Background(), key, "1", models.StatusPatch(models.StatusInProgress))
	}()

	select {
	case got := <-changes:
		assert.Equal(t, key, got)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
	assert.Equal(t, models.StatusInProgress, c.Tasks(key)[0].Status)
	require.Eventually(t, func() bool { return len(remote.callLog()) == 1 }, time.Second, time.Millisecond)

	close(remote.block)
	require.NoError(t, <-done)
	assert.Equal(t, models.StatusInProgress, c.Tasks(key)[0].Status)
}

func TestUnknownIDsMakeNoRemoteCalls(t *testing.T) {
	remote := newFakeRemote(task("1", "Fix bug", models.StatusTodo))
	c := newLoaded(t, remote)
	ctx := context.Background()

	assert.NoError(t, c.Update(ctx, key, "missing", models.StatusPatch(models.StatusCompleted)))
	assert.NoError(t, c.BulkUpdate(ctx, key, nil, models.StatusPatch(models.StatusCompleted)))
	assert.NoError(t, c.Delete(ctx, key, "missing"))
	assert.NoError(t, c.BulkUpdate(ctx, QueryKey{UID: "other"}, []string{"1"}, models.StatusPatch(models.StatusCompleted)))

	assert.Empty(t, remote.callLog())
	assert.Equal(t, models.StatusTodo, c.Tasks(key)[0].Status)
}

func TestBulkUpdate_RollsBackOnlyFailedIDs(t *testing.T) {
	remote := newFakeRemote(
		task("1", "Fix bug", models.StatusTodo),
		task("2", "Buy milk", models.StatusTodo),
	)
	remote.fail["2"] = true
	c := newLoaded(t, remote)

	err := c.BulkUpdate(context.Background(), key, []string{"1", "2"}, models.StatusPatch(models.StatusCompleted))
	require.Error(t, err)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Contains(t, err.Error(), "task 2")

	tasks := c.Tasks(key)
	assert.Equal(t, models.StatusCompleted, tasks[0].Status)
	assert.Equal(t, models.StatusTodo, tasks[1].Status)
	assert.Equal(t, created, tasks[1].UpdatedAt)
}

func TestWithoutRollback_KeepsOptimisticState(t *testing.T) {
	remote := newFakeRemote(
		task("1", "Fix bug", models.StatusTodo),
		task("2", "Buy milk", models.StatusTodo),
	)
	remote.fail["2"] = true
	remote.fail["1"] = true
	c := newLoaded(t, remote, WithoutRollback())
	ctx := context.Background()

	require.Error(t, c.BulkUpdate(ctx, key, []string{"1", "2"}, models.StatusPatch(models.StatusCompleted)))
	for _, task := range c.Tasks(key) {
		assert.Equal(t, models.StatusCompleted, task.Status)
	}

	require.Error(t, c.Delete(ctx, key, "1"))
	assert.Equal(t, []string{"2"}, ids(c.Tasks(key)))

	remote.fail["9"] = true
	require.Error(t, c.Add(ctx, key, models.Task{ID: "9", Title: "New", Status: models.StatusTodo}))
	assert.Equal(t, []string{"2", "9"}, ids(c.Tasks(key)))
}

func TestAdd(t *testing.T) {
	remote := newFakeRemote(task("1", "Fix bug", models.StatusTodo))
	c := newLoaded(t, remote)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, key, models.Task{ID: "2", Title: "Buy milk", Status: models.StatusTodo}))
	tasks := c.Tasks(key)
	require.Equal(t, []string{"1", "2"}, ids(tasks))
	assert.Equal(t, "confirmed", tasks[1].Description)
	assert.Equal(t, clock, tasks[1].CreatedAt)
	assert.Equal(t, tasks[1].CreatedAt, tasks[1].UpdatedAt)

	remote.fail["3"] = true
	err := c.Add(ctx, key, models.Task{ID: "3", Title: "Doomed", Status: models.StatusTodo})
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, []string{"1", "2"}, ids(c.Tasks(key)))

	calls := len(remote.callLog())
	assert.ErrorIs(t, c.Add(ctx, key, models.Task{ID: "1", Title: "Dup", Status: models.StatusTodo}), ErrDuplicateTask)
	assert.ErrorIs(t, c.Add(ctx, key, models.Task{ID: "4", Title: "Bad", Status: "BLOCKED"}), models.ErrInvalidStatus)
	assert.Len(t, remote.callLog(), calls)
}

func TestBulkDelete_RestoresFailedTasksInPlace(t *testing.T) {
	remote := newFakeRemote(
		task("1", "a", models.StatusTodo),
		task("2", "b", models.StatusTodo),
		task("3", "c", models.StatusTodo),
		task("4", "d", models.StatusTodo),
		task("5", "e", models.StatusTodo),
	)
	remote.fail["4"] = true
	c := newLoaded(t, remote)

	err := c.BulkDelete(context.Background(), key, []string{"2", "4", "5"})
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, []string{"1", "3", "4"}, ids(c.Tasks(key)))
	assert.Equal(t, []string{"1", "3", "4"}, ids(remote.snapshot()))

	remote.fail["1"] = true
	remote.fail["3"] = true
	require.Error(t, c.BulkDelete(context.Background(), key, []string{"1", "3", "4"}))
	assert.Equal(t, []string{"1", "3"}, ids(c.Tasks(key)))
	assert.Equal(t, []string{"1", "3"}, ids(remote.snapshot()))
}

func TestFetch_LastResponseWins(t *testing.T) {
	remote := newFakeRemote()
	release := make(chan struct{})
	var n atomic.Int32
	remote.listFn = func() ([]models.Task, error) {
		if n.Add(1) == 1 {
			<-release
			return []models.Task{task("slow", "slow", models.StatusTodo)}, nil
		}
		return []models.Task{task("fast", "fast", models.StatusTodo)}, nil
	}
	c := New(remote)

	done := make(chan error, 1)
	go func() {
		_, err := c.Fetch(context.Background(), key)
		done <- err
	}()
	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, time.Millisecond)

	_, err := c.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []string{"fast"}, ids(c.Tasks(key)))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"slow"}, ids(c.Tasks(key)))
}

func TestFetch_ErrorLeavesCacheUntouched(t *testing.T) {
	remote := newFakeRemote(task("1", "Fix bug", models.StatusTodo))
	c := newLoaded(t, remote)

	remote.listFn = func() ([]models.Task, error) { return nil, errUnavailable }
	_, err := c.Fetch(context.Background(), key)
	assert.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, []string{"1"}, ids(c.Tasks(key)))
}

func TestTasksReturnsCopies(t *testing.T) {
	remote := newFakeRemote(task("1", "Fix bug", models.StatusTodo))
	c := newLoaded(t, remote)

	tasks := c.Tasks(key)
	tasks[0].Title = "changed"
	tasks[0].ImageURLs = append(tasks[0].ImageURLs, "x")
	assert.Equal(t, "Fix bug", c.Tasks(key)[0].Title)
	assert.Empty(t, c.Tasks(key)[0].ImageURLs)
}

func TestSubscribe_DropsWhenSubscriberLags(t *testing.T) {
	remote := newFakeRemote()
	c := New(remote)
	changes, unsubscribe := c.Subscribe()

	for i := range subscriberBuffer * 2 {
		require.NoError(t, c.Add(context.Background(), key,
			models.Task{ID: fmt.Sprint(i), Title: "t", Status: models.StatusTodo}))
	}
	assert.Len(t, changes, subscriberBuffer)

	unsubscribe()
	unsubscribe()
	for range changes {
	}
	_, open := <-changes
	assert.False(t, open)
}
