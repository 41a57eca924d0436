package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/TWRT/taskboard/internal/client/blob"
	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/repository"
	"github.com/TWRT/taskboard/internal/service"
)

type ctxKey string

const userContextKey ctxKey = "taskboard.user"

func WithUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func UserFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userContextKey).(models.User)
	return u, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StatusFor maps a service error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, models.ErrInvalidCategory),
		errors.Is(err, models.ErrMissingIdentifier),
		errors.Is(err, models.ErrMissingTitle),
		errors.Is(err, models.ErrInvalidPreference),
		errors.Is(err, blob.ErrFileTooLarge),
		errors.Is(err, blob.ErrUnsupportedType),
		errors.Is(err, service.ErrForeignImage),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with its mapped status. Internal errors are
// logged and their detail is kept out of the response.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, action string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), action+" failed",
			slog.String("path", r.URL.Path),
			slog.Any("err", err))
		WriteError(w, status, "Error trying to "+action)
		return
	}
	WriteError(w, status, err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

// currentUID returns the signed-in user's id. RequireAuth guarantees it is
// present on every route that calls this.
func currentUID(r *http.Request) string {
	u, _ := UserFromContext(r.Context())
	return u.UID
}
