package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/TWRT/taskboard/internal/client/blob"
	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/service"
	"github.com/TWRT/taskboard/internal/view"
)

const (
	// Room for a handful of maximum-size images plus the form fields.
	maxRequestBody  = 8 * blob.MaxFileSize
	multipartMemory = 32 << 20
)

type updateTaskRequest struct {
	models.Patch
	DeletedImageURLs []string `json:"deletedImageUrls,omitempty"`
}

type bulkUpdateRequest struct {
	IDs   []string     `json:"ids"`
	Patch models.Patch `json:"patch"`
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type TaskHandler struct {
	taskService *service.TaskService
	logger      *slog.Logger
}

func NewTaskHandler(taskService *service.TaskService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.taskService.ListTasks(r.Context(), currentUID(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
	})
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.taskService.GetTask(r.Context(), currentUID(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task": task,
	})
}

// CreateTask accepts either a JSON task, or a multipart form with the task
// JSON in the "task" field and files under "images".
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var (
		task    models.Task
		uploads []blob.Upload
	)
	if isMultipart(r) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			WriteError(w, http.StatusBadRequest, "Error trying to read the form: "+err.Error())
			return
		}
		if err := json.Unmarshal([]byte(r.FormValue("task")), &task); err != nil {
			WriteError(w, http.StatusBadRequest, "JSON error: "+err.Error())
			return
		}
		var err error
		if uploads, err = readUploads(r.MultipartForm.File["images"]); err != nil {
			WriteError(w, http.StatusBadRequest, "Error trying to read images: "+err.Error())
			return
		}
	} else if err := decodeJSON(r, &task); err != nil {
		WriteError(w, http.StatusBadRequest, "JSON error: "+err.Error())
		return
	}

	created, err := h.taskService.CreateTaskWithImages(r.Context(), currentUID(r), task, uploads)
	if err != nil {
		writeServiceError(w, r, h.logger, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"task": created,
	})
}

// UpdateTask accepts a JSON patch, or a multipart form with the patch JSON in
// "patch", new files under "images" and URLs to drop under "deleted".
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var (
		req     updateTaskRequest
		uploads []blob.Upload
	)
	if isMultipart(r) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			WriteError(w, http.StatusBadRequest, "Error trying to read the form: "+err.Error())
			return
		}
		if raw := r.FormValue("patch"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req); err != nil {
				WriteError(w, http.StatusBadRequest, "JSON error: "+err.Error())
				return
			}
		}
		req.DeletedImageURLs = append(req.DeletedImageURLs, r.MultipartForm.Value["deleted"]...)
		var err error
		if uploads, err = readUploads(r.MultipartForm.File["images"]); err != nil {
			WriteError(w, http.StatusBadRequest, "Error trying to read images: "+err.Error())
			return
		}
	} else if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "JSON error: "+err.Error())
		return
	}

	updated, err := h.taskService.UpdateTaskWithImages(r.Context(), currentUID(r), r.PathValue("id"),
		req.Patch, uploads, req.DeletedImageURLs)
	if err != nil {
		writeServiceError(w, r, h.logger, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task": updated,
	})
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.taskService.DeleteTask(r.Context(), currentUID(r), r.PathValue("id")); err != nil {
		writeServiceError(w, r, h.logger, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkUpdate answers 207 with the per-task errors when only some ids could be
// updated.
func (h *TaskHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "JSON error: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		WriteError(w, http.StatusBadRequest, "ids is required")
		return
	}
	if err := req.Patch.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.taskService.BulkUpdate(r.Context(), currentUID(r), req.IDs, req.Patch)
	if err != nil {
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"tasks":  updated,
			"errors": errorMessages(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": updated,
	})
}

func (h *TaskHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "JSON error: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		WriteError(w, http.StatusBadRequest, "ids is required")
		return
	}

	if err := h.taskService.BulkDelete(r.Context(), currentUID(r), req.IDs); err != nil {
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"errors": errorMessages(err),
		})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Board serves GET /board?category=&due=&q=&sort=&dir=&tz=. A sort key without
// dir sorts ascending. Due buckets are computed in tz when given, otherwise in
// the server's zone.
func (h *TaskHandler) Board(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter, err := view.ParseFilter(q.Get("category"), q.Get("due"), q.Get("q"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := view.ParseSortKey(q.Get("sort"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	dir, err := view.ParseDirection(q.Get("dir"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	sort := view.Sort{Key: key, Direction: dir}
	if key != view.SortNone && dir == view.DirNone {
		sort = view.Sort{}.Cycle(key)
	}

	now := time.Now()
	if tz := q.Get("tz"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown time zone %q", tz))
			return
		}
		now = now.In(loc)
	}

	board, err := h.taskService.Board(r.Context(), currentUID(r), filter, sort, now)
	if err != nil {
		writeServiceError(w, r, h.logger, "build board", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"board": board,
	})
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

func readUploads(files []*multipart.FileHeader) ([]blob.Upload, error) {
	uploads := make([]blob.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		uploads = append(uploads, blob.Upload{Name: fh.Filename, ContentType: contentType, Data: data})
	}
	return uploads, nil
}

func errorMessages(err error) []string {
	errs := multierr.Errors(err)
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return msgs
}
