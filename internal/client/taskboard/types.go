package taskboard

import (
	"errors"
	"fmt"

	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/view"
)

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error status %d", e.StatusCode)
	}
	return fmt.Sprintf("API error status %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type userResponse struct {
	User models.User `json:"user"`
}

type taskResponse struct {
	Task models.Task `json:"task"`
}

type tasksResponse struct {
	Tasks  []models.Task `json:"tasks"`
	Errors []string      `json:"errors"`
}

type boardResponse struct {
	Board view.Partition `json:"board"`
}

type preferencesResponse struct {
	Preferences models.Preferences `json:"preferences"`
}

type updateTaskRequest struct {
	models.Patch
	DeletedImageURLs []string `json:"deletedImageUrls,omitempty"`
}

type bulkRequest struct {
	IDs   []string      `json:"ids"`
	Patch *models.Patch `json:"patch,omitempty"`
}

// BoardQuery mirrors the /board query parameters. Empty fields are omitted.
type BoardQuery struct {
	Category string
	Due      string
	Search   string
	Sort     string
	Dir      string
	TimeZone string
}
