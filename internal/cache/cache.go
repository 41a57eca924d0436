// Package cache keeps a local copy of each user's task list and applies
// mutations to it before the remote store confirms them.
//
// Every mutation is applied locally under the lock, subscribers are told,
// and only then is the remote call made, without the lock held. Readers
// therefore see optimistic state while a request is in flight. When a remote
// call fails the cache reverts the records that call touched and nothing
// else, unless it was built WithoutRollback.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/TWRT/taskboard/internal/client"
	"github.com/TWRT/taskboard/internal/models"
)

const (
	remoteConcurrency = 8
	subscriberBuffer  = 16
)

var ErrDuplicateTask = errors.New("task id already in cache")

// QueryKey identifies one cached list.
type QueryKey struct {
	UID string
}

type Option func(*Cache)

// WithoutRollback keeps optimistic state after a remote failure.
func WithoutRollback() Option {
	return func(c *Cache) { c.rollback = false }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

type Cache struct {
	remote   client.TaskStore
	rollback bool
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[QueryKey][]models.Task

	subMu sync.Mutex
	subs  map[chan QueryKey]struct{}
}

func New(remote client.TaskStore, opts ...Option) *Cache {
	c := &Cache{
		remote:   remote,
		rollback: true,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		entries:  make(map[QueryKey][]models.Task),
		subs:     make(map[chan QueryKey]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe returns a channel that receives the key of every list that
// changed. Sends never block: a subscriber that falls behind misses
// notifications. Call the returned func to unsubscribe.
func (c *Cache) Subscribe() (<-chan QueryKey, func()) {
	ch := make(chan QueryKey, subscriberBuffer)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Cache) notify(key QueryKey) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- key:
		default:
		}
	}
}

// Tasks returns a copy of the cached list for key.
func (c *Cache) Tasks(key QueryKey) []models.Task {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.entries[key]
	out := make([]models.Task, len(list))
	for i, t := range list {
		out[i] = t.Clone()
	}
	return out
}

// Fetch replaces the cached list with the remote one. Fetches are not
// ordered: when two overlap, whichever response arrives last wins.
func (c *Cache) Fetch(ctx context.Context, key QueryKey) ([]models.Task, error) {
	tasks, err := c.remote.ListTasks(ctx, key.UID)
	if err != nil {
		return nil, fmt.Errorf("fetch tasks: %w", err)
	}

	list := make([]models.Task, len(tasks))
	for i, t := range tasks {
		list[i] = t.Clone()
	}

	c.mu.Lock()
	c.entries[key] = list
	c.mu.Unlock()
	c.notify(key)

	return c.Tasks(key), nil
}

// Add appends task locally and then creates it remotely. On success the local
// record is replaced by the confirmed one.
func (c *Cache) Add(ctx context.Context, key QueryKey, task models.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	now := models.Millis(c.now())
	task = task.Clone()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}

	c.mu.Lock()
	if indexOf(c.entries[key], task.ID) >= 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.ID)
	}
	c.entries[key] = append(c.entries[key], task)
	c.mu.Unlock()
	c.notify(key)

	confirmed, err := c.remote.CreateTask(ctx, key.UID, task)
	if err != nil {
		c.logger.Error("remote create failed",
			slog.String("uid", key.UID),
			slog.String("task_id", task.ID),
			slog.Any("err", err))
		if c.rollback {
			c.mutate(key, func(list []models.Task) []models.Task {
				if i := indexOf(list, task.ID); i >= 0 {
					return slices.Delete(list, i, i+1)
				}
				return list
			})
		}
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}

	c.mutate(key, func(list []models.Task) []models.Task {
		if i := indexOf(list, task.ID); i >= 0 {
			list[i] = confirmed.Clone()
		}
		return list
	})
	return nil
}

// Update merges patch into the cached task and sends the same patch to the
// remote store. An id that is not cached is ignored.
func (c *Cache) Update(ctx context.Context, key QueryKey, id string, patch models.Patch) error {
	return c.BulkUpdate(ctx, key, []string{id}, patch)
}

// BulkUpdate merges patch into every cached task in ids, then issues one
// remote update per task concurrently. A failed update does not undo the
// ones that succeeded; the failures are combined in the returned error.
func (c *Cache) BulkUpdate(ctx context.Context, key QueryKey, ids []string, patch models.Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}

	now := c.now()
	prior := make(map[string]models.Task, len(ids))
	c.mu.Lock()
	list := c.entries[key]
	for _, id := range ids {
		i := indexOf(list, id)
		if i < 0 {
			continue
		}
		if _, seen := prior[id]; !seen {
			prior[id] = list[i].Clone()
		}
		list[i] = patch.Apply(list[i], now)
	}
	c.mu.Unlock()

	if len(prior) == 0 {
		return nil
	}
	c.notify(key)

	touched := make([]string, 0, len(prior))
	for _, id := range ids {
		if _, ok := prior[id]; ok && !slices.Contains(touched, id) {
			touched = append(touched, id)
		}
	}

	failed, err := c.each(touched, "update", key, func(id string) error {
		_, err := c.remote.UpdateTask(ctx, key.UID, id, patch)
		return err
	})

	if len(failed) > 0 && c.rollback {
		c.mutate(key, func(list []models.Task) []models.Task {
			for _, id := range failed {
				if i := indexOf(list, id); i >= 0 {
					list[i] = prior[id]
				}
			}
			return list
		})
	}
	return err
}

func (c *Cache) Delete(ctx context.Context, key QueryKey, id string) error {
	return c.BulkDelete(ctx, key, []string{id})
}

// BulkDelete removes every cached task in ids and deletes each remotely,
// concurrently and independently. A task whose remote delete fails is put
// back where it was.
func (c *Cache) BulkDelete(ctx context.Context, key QueryKey, ids []string) error {
	type removed struct {
		index int
		task  models.Task
	}

	var gone []removed
	c.mu.Lock()
	list := c.entries[key]
	for i, t := range list {
		if slices.Contains(ids, t.ID) {
			gone = append(gone, removed{index: i, task: t})
		}
	}
	c.entries[key] = slices.DeleteFunc(list, func(t models.Task) bool {
		return slices.Contains(ids, t.ID)
	})
	c.mu.Unlock()

	if len(gone) == 0 {
		return nil
	}
	c.notify(key)

	touched := make([]string, len(gone))
	for i, r := range gone {
		touched[i] = r.task.ID
	}
	failed, err := c.each(touched, "delete", key, func(id string) error {
		return c.remote.DeleteTask(ctx, key.UID, id)
	})

	if len(failed) > 0 && c.rollback {
		c.mutate(key, func(list []models.Task) []models.Task {
			// gone is in ascending index order. Each restored task goes back
			// to its old index, less the removed tasks before it that stay
			// removed.
			skipped := 0
			for _, r := range gone {
				if !slices.Contains(failed, r.task.ID) || indexOf(list, r.task.ID) >= 0 {
					skipped++
					continue
				}
				list = slices.Insert(list, min(r.index-skipped, len(list)), r.task)
			}
			return list
		})
	}
	return err
}

// each runs call for every id concurrently, waits for all of them, and
// returns the ids that failed along with their combined errors.
func (c *Cache) each(ids []string, op string, key QueryKey, call func(id string) error) ([]string, error) {
	var (
		mu     sync.Mutex
		failed []string
		errs   error
		g      errgroup.Group
	)
	g.SetLimit(remoteConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			if err := call(id); err != nil {
				c.logger.Error("remote "+op+" failed",
					slog.String("uid", key.UID),
					slog.String("task_id", id),
					slog.Any("err", err))
				mu.Lock()
				failed = append(failed, id)
				errs = multierr.Append(errs, fmt.Errorf("%s task %s: %w", op, id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed, errs
}

func (c *Cache) mutate(key QueryKey, fn func([]models.Task) []models.Task) {
	c.mu.Lock()
	c.entries[key] = fn(c.entries[key])
	c.mu.Unlock()
	c.notify(key)
}

func indexOf(list []models.Task, id string) int {
	return slices.IndexFunc(list, func(t models.Task) bool { return t.ID == id })
}
