package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrInvalidStatus     = errors.New("invalid task status")
	ErrInvalidCategory   = errors.New("invalid task category")
	ErrMissingIdentifier = errors.New("missing user id or task id")
	ErrMissingTitle      = errors.New("task title is required")
	ErrInvalidPreference = errors.New("invalid preference value")
)

type Status string

const (
	StatusTodo       Status = "TO-DO"
	StatusInProgress Status = "IN-PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Statuses lists every status in board column order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusCompleted}

func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// ParseStatus accepts the canonical value in any case, plus the short forms
// "todo", "in-progress"/"inprogress"/"doing" and "done".
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "to-do", "todo":
		return StatusTodo, nil
	case "in-progress", "inprogress", "in_progress", "doing":
		return StatusInProgress, nil
	case "completed", "done":
		return StatusCompleted, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

type Category string

const (
	CategoryWork     Category = "WORK"
	CategoryPersonal Category = "PERSONAL"
)

var Categories = []Category{CategoryWork, CategoryPersonal}

func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
	}
	return c, nil
}

type Task struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Status      Status     `json:"status" yaml:"status"`
	Category    Category   `json:"category,omitempty" yaml:"category,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty" yaml:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" yaml:"updatedAt"`
	ImageURLs   []string   `json:"imageUrls" yaml:"imageUrls"`
}

// Validate checks the fields a caller controls. An empty category is allowed
// for records written before categories existed.
func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrMissingIdentifier
	}
	if strings.TrimSpace(t.Title) == "" {
		return ErrMissingTitle
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, t.Status)
	}
	if t.Category != "" && !t.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, t.Category)
	}
	return nil
}

// Clone returns a copy that shares no slices or pointers with t.
func (t Task) Clone() Task {
	out := t
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	out.ImageURLs = slices.Clone(t.ImageURLs)
	if out.ImageURLs == nil {
		out.ImageURLs = []string{}
	}
	return out
}

// Millis truncates t to millisecond precision, the resolution tasks are
// persisted at.
func Millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).In(t.Location())
}

// Patch is a partial task update. A nil field means "no change".
type Patch struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	Category     *Category  `json:"category,omitempty"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	ClearDueDate bool       `json:"clearDueDate,omitempty"`
	ImageURLs    *[]string  `json:"imageUrls,omitempty"`
}

func (p Patch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return ErrMissingTitle
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
	}
	if p.Category != nil && !p.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, *p.Category)
	}
	return nil
}

func (p Patch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil &&
		p.Category == nil && p.DueDate == nil && !p.ClearDueDate && p.ImageURLs == nil
}

// Apply merges p over t and stamps UpdatedAt with now. UpdatedAt never moves
// before CreatedAt.
func (p Patch) Apply(t Task, now time.Time) Task {
	out := t.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.ClearDueDate {
		out.DueDate = nil
	} else if p.DueDate != nil {
		d := *p.DueDate
		out.DueDate = &d
	}
	if p.ImageURLs != nil {
		out.ImageURLs = slices.Clone(*p.ImageURLs)
		if out.ImageURLs == nil {
			out.ImageURLs = []string{}
		}
	}

	out.UpdatedAt = Millis(now)
	if out.UpdatedAt.Before(out.CreatedAt) {
		out.UpdatedAt = out.CreatedAt
	}
	return out
}

// StatusPatch is the single-field update produced by a drop or a bulk status
// change.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}
