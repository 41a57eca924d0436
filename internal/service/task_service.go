package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/TWRT/taskboard/internal/client"
	"github.com/TWRT/taskboard/internal/client/blob"
	"github.com/TWRT/taskboard/internal/metrics"
	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/repository"
	"github.com/TWRT/taskboard/internal/view"
)

const bulkConcurrency = 8

// ErrForeignImage rejects image URLs outside the caller's own folder.
var ErrForeignImage = errors.New("image url does not belong to this user")

var _ client.TaskStore = (*TaskService)(nil)

type TaskService struct {
	taskRepo *repository.TaskRepository
	blobs    blob.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewTaskService(
	taskRepo *repository.TaskRepository,
	blobs blob.Store,
	m *metrics.Metrics,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		taskRepo: taskRepo,
		blobs:    blobs,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func requireUID(uid string) error {
	if strings.TrimSpace(uid) == "" {
		return models.ErrMissingIdentifier
	}
	return nil
}

func (s *TaskService) ListTasks(ctx context.Context, uid string) ([]models.Task, error) {
	if err := requireUID(uid); err != nil {
		return nil, err
	}
	return s.taskRepo.GetAll(ctx, uid)
}

func (s *TaskService) GetTask(ctx context.Context, uid, id string) (models.Task, error) {
	if err := requireUID(uid); err != nil {
		return models.Task{}, err
	}
	return s.taskRepo.Get(ctx, uid, id)
}

func (s *TaskService) CreateTask(ctx context.Context, uid string, task models.Task) (models.Task, error) {
	return s.CreateTaskWithImages(ctx, uid, task, nil)
}

// CreateTaskWithImages uploads the files and stores the task with their URLs
// appended. Files are validated before anything is uploaded; an upload that
// fails is logged and left out.
func (s *TaskService) CreateTaskWithImages(ctx context.Context, uid string, task models.Task, uploads []blob.Upload) (created models.Task, err error) {
	defer func() { s.metrics.ObserveMutation("create", err) }()

	if err := requireUID(uid); err != nil {
		return models.Task{}, err
	}
	if err := task.Validate(); err != nil {
		return models.Task{}, err
	}
	if err := blob.ValidateAll(uploads); err != nil {
		return models.Task{}, err
	}

	if err := checkImages(uid, task.ImageURLs, nil); err != nil {
		return models.Task{}, err
	}

	// Fails fast before uploading; Insert still decides a race.
	_, err = s.taskRepo.Get(ctx, uid, task.ID)
	switch {
	case err == nil:
		return models.Task{}, fmt.Errorf("task %s: %w", task.ID, repository.ErrDuplicate)
	case !errors.Is(err, repository.ErrNotFound):
		return models.Task{}, err
	}

	urls := s.upload(ctx, uid, uploads)

	now := models.Millis(s.now())
	created = task.Clone()
	created.CreatedAt = now
	created.UpdatedAt = now
	created.ImageURLs = append(created.ImageURLs, urls...)

	if err := s.taskRepo.Insert(ctx, uid, created); err != nil {
		blob.DeleteAll(ctx, s.blobs, s.logger, urls)
		return models.Task{}, fmt.Errorf("create task: %w", err)
	}

	s.logger.Info("task created",
		slog.String("uid", uid),
		slog.String("task_id", created.ID),
		slog.Int("images", len(created.ImageURLs)))
	return created, nil
}

func (s *TaskService) UpdateTask(ctx context.Context, uid, id string, patch models.Patch) (models.Task, error) {
	return s.UpdateTaskWithImages(ctx, uid, id, patch, nil, nil)
}

// UpdateTaskWithImages merges patch into the stored task. URLs listed in
// deleted are dropped from the task and their objects removed; new uploads
// are appended after the remaining URLs.
func (s *TaskService) UpdateTaskWithImages(
	ctx context.Context,
	uid, id string,
	patch models.Patch,
	uploads []blob.Upload,
	deleted []string,
) (updated models.Task, err error) {
	defer func() { s.metrics.ObserveMutation("update", err) }()

	if err := requireUID(uid); err != nil {
		return models.Task{}, err
	}
	if strings.TrimSpace(id) == "" {
		return models.Task{}, models.ErrMissingIdentifier
	}
	if err := patch.Validate(); err != nil {
		return models.Task{}, err
	}
	if err := blob.ValidateAll(uploads); err != nil {
		return models.Task{}, err
	}

	var uploaded []string
	if len(uploads) > 0 {
		if _, err := s.taskRepo.Get(ctx, uid, id); err != nil {
			return models.Task{}, err
		}
		uploaded = s.upload(ctx, uid, uploads)
	}

	var removed []string
	updated, err = s.taskRepo.Update(ctx, uid, id, func(existing models.Task) (models.Task, error) {
		removed = nil
		if patch.ImageURLs == nil && len(uploaded) == 0 && len(deleted) == 0 {
			return patch.Apply(existing, s.now()), nil
		}

		current := existing.ImageURLs
		if patch.ImageURLs != nil {
			if err := checkImages(uid, *patch.ImageURLs, existing.ImageURLs); err != nil {
				return models.Task{}, err
			}
			current = *patch.ImageURLs
		}
		urls := make([]string, 0, len(current)+len(uploaded))
		for _, url := range current {
			if slices.Contains(deleted, url) {
				removed = append(removed, url)
				continue
			}
			urls = append(urls, url)
		}
		urls = append(urls, uploaded...)

		merged := patch
		merged.ImageURLs = &urls
		return merged.Apply(existing, s.now()), nil
	})
	if err != nil {
		blob.DeleteAll(ctx, s.blobs, s.logger, uploaded)
		return models.Task{}, err
	}

	// Objects go only once the task no longer points at them.
	blob.DeleteAll(ctx, s.blobs, s.logger, ownImages(uid, removed))
	return updated, nil
}

// DeleteTask removes the task's images, then the record.
func (s *TaskService) DeleteTask(ctx context.Context, uid, id string) (err error) {
	defer func() { s.metrics.ObserveMutation("delete", err) }()

	if err := requireUID(uid); err != nil {
		return err
	}
	existing, err := s.taskRepo.Get(ctx, uid, id)
	if err != nil {
		return err
	}

	blob.DeleteAll(ctx, s.blobs, s.logger, ownImages(uid, existing.ImageURLs))

	if err := s.taskRepo.Delete(ctx, uid, id); err != nil {
		return err
	}
	s.logger.Info("task deleted", slog.String("uid", uid), slog.String("task_id", id))
	return nil
}

// checkImages rejects any URL that is neither in kept nor an object of uid.
func checkImages(uid string, urls, kept []string) error {
	for _, url := range urls {
		if !slices.Contains(kept, url) && !blob.OwnedBy(uid, url) {
			return fmt.Errorf("%w: %s", ErrForeignImage, url)
		}
	}
	return nil
}

// ownImages keeps the URLs uid may delete.
func ownImages(uid string, urls []string) []string {
	var own []string
	for _, url := range urls {
		if blob.OwnedBy(uid, url) {
			own = append(own, url)
		}
	}
	return own
}

// Board returns the filtered, sorted and partitioned view of uid's tasks.
func (s *TaskService) Board(ctx context.Context, uid string, f view.Filter, sort view.Sort, now time.Time) (view.Partition, error) {
	tasks, err := s.ListTasks(ctx, uid)
	if err != nil {
		return view.Partition{}, err
	}
	return view.Derive(tasks, f, sort, now), nil
}

// BulkUpdate applies patch to every id independently. It returns the tasks
// that were updated, in ids order, and every failure combined; one failure
// never stops the others.
func (s *TaskService) BulkUpdate(ctx context.Context, uid string, ids []string, patch models.Patch) ([]models.Task, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	results := make([]*models.Task, len(ids))
	err := s.forEach(ids, func(i int, id string) error {
		t, err := s.UpdateTask(ctx, uid, id, patch)
		if err != nil {
			return err
		}
		results[i] = &t
		return nil
	})

	updated := make([]models.Task, 0, len(ids))
	for _, t := range results {
		if t != nil {
			updated = append(updated, *t)
		}
	}
	return updated, err
}

func (s *TaskService) BulkDelete(ctx context.Context, uid string, ids []string) error {
	return s.forEach(ids, func(_ int, id string) error {
		return s.DeleteTask(ctx, uid, id)
	})
}

// forEach runs fn for every id concurrently and waits for all of them.
func (s *TaskService) forEach(ids []string, fn func(i int, id string) error) error {
	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(bulkConcurrency)

	for i, id := range ids {
		g.Go(func() error {
			if err := fn(i, id); err != nil {
				s.logger.Error("bulk task operation failed",
					slog.String("task_id", id),
					slog.Any("err", err))
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("task %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (s *TaskService) upload(ctx context.Context, uid string, uploads []blob.Upload) []string {
	if len(uploads) == 0 {
		return nil
	}
	urls := blob.UploadAll(ctx, s.blobs, s.logger, uid, uploads)
	s.metrics.UploadFailed(len(uploads) - len(urls))
	return urls
}
