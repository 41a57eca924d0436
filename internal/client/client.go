package client

import (
	"context"

	"github.com/TWRT/taskboard/internal/models"
)

// TaskStore is the remote document store the optimistic cache reconciles
// against. Every call is scoped to one user's task set and returns the
// server-confirmed record.
type TaskStore interface {
	ListTasks(ctx context.Context, uid string) ([]models.Task, error)
	CreateTask(ctx context.Context, uid string, task models.Task) (models.Task, error)
	UpdateTask(ctx context.Context, uid, id string, patch models.Patch) (models.Task, error)
	DeleteTask(ctx context.Context, uid, id string) error
}

type PreferenceStore interface {
	GetPreferences(ctx context.Context, uid string) (models.Preferences, error)
	SetTheme(ctx context.Context, uid string, theme models.Theme) error
	SetView(ctx context.Context, uid string, view models.ViewMode) error
}
