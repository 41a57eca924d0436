// Package taskboard is the HTTP client for the taskboard server API.
package taskboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/TWRT/taskboard/internal/client"
	"github.com/TWRT/taskboard/internal/client/blob"
	"github.com/TWRT/taskboard/internal/models"
	"github.com/TWRT/taskboard/internal/view"
)

var (
	_ client.TaskStore       = (*Client)(nil)
	_ client.PreferenceStore = (*Client)(nil)
)

// Client talks to one server as one signed-in user. The uid arguments of the
// TaskStore methods are not sent: the server scopes every call by the token.
type Client struct {
	baseUrl    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseUrl:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Register(ctx context.Context, email, password, displayName string) (Session, error) {
	var session Session
	err := c.doJSON(ctx, http.MethodPost, "/auth/register", map[string]string{
		"email":       email,
		"password":    password,
		"displayName": displayName,
	}, &session)
	return session, err
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var session Session
	err := c.doJSON(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &session)
	return session, err
}

func (c *Client) Me(ctx context.Context) (models.User, error) {
	var resp userResponse
	err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &resp)
	return resp.User, err
}

func (c *Client) ListTasks(ctx context.Context, _ string) ([]models.Task, error) {
	var resp tasksResponse
	if err := c.doJSON(ctx, http.MethodGet, "/tasks", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Tasks == nil {
		resp.Tasks = []models.Task{}
	}
	return resp.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (models.Task, error) {
	var resp taskResponse
	err := c.doJSON(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &resp)
	return resp.Task, err
}

func (c *Client) CreateTask(ctx context.Context, _ string, task models.Task) (models.Task, error) {
	var resp taskResponse
	err := c.doJSON(ctx, http.MethodPost, "/tasks", task, &resp)
	return resp.Task, err
}

// CreateTaskWithImages sends the task and its files as one multipart request.
func (c *Client) CreateTaskWithImages(ctx context.Context, task models.Task, uploads []blob.Upload) (models.Task, error) {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return models.Task{}, fmt.Errorf("Error trying to parse body to Json: %w", err)
	}
	body, contentType, err := multipartBody(map[string][]string{"task": {string(taskJSON)}}, uploads)
	if err != nil {
		return models.Task{}, err
	}

	var resp taskResponse
	err = c.do(ctx, http.MethodPost, "/tasks", body, contentType, &resp)
	return resp.Task, err
}

func (c *Client) UpdateTask(ctx context.Context, _ string, id string, patch models.Patch) (models.Task, error) {
	var resp taskResponse
	err := c.doJSON(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), updateTaskRequest{Patch: patch}, &resp)
	return resp.Task, err
}

// UpdateTaskWithImages applies patch, drops the deleted URLs and appends the
// uploads.
func (c *Client) UpdateTaskWithImages(ctx context.Context, id string, patch models.Patch, uploads []blob.Upload, deleted []string) (models.Task, error) {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return models.Task{}, fmt.Errorf("Error trying to parse body to Json: %w", err)
	}
	fields := map[string][]string{"patch": {string(patchJSON)}, "deleted": deleted}
	body, contentType, err := multipartBody(fields, uploads)
	if err != nil {
		return models.Task{}, err
	}

	var resp taskResponse
	err = c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id), body, contentType, &resp)
	return resp.Task, err
}

func (c *Client) DeleteTask(ctx context.Context, _ string, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}

// BulkUpdate returns the tasks the server updated. When only some ids
// failed, the error combines the server's per-task messages.
func (c *Client) BulkUpdate(ctx context.Context, ids []string, patch models.Patch) ([]models.Task, error) {
	var resp tasksResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tasks/bulk-update", bulkRequest{IDs: ids, Patch: &patch}, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, combine(resp.Errors)
}

func (c *Client) BulkDelete(ctx context.Context, ids []string) error {
	var resp tasksResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tasks/bulk-delete", bulkRequest{IDs: ids}, &resp); err != nil {
		return err
	}
	return combine(resp.Errors)
}

func (c *Client) Board(ctx context.Context, q BoardQuery) (view.Partition, error) {
	params := url.Values{}
	for key, value := range map[string]string{
		"category": q.Category,
		"due":      q.Due,
		"q":        q.Search,
		"sort":     q.Sort,
		"dir":      q.Dir,
		"tz":       q.TimeZone,
	} {
		if value != "" {
			params.Set(key, value)
		}
	}
	path := "/board"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp boardResponse
	err := c.doJSON(ctx, http.MethodGet, path, nil, &resp)
	return resp.Board, err
}

func (c *Client) GetPreferences(ctx context.Context, _ string) (models.Preferences, error) {
	var resp preferencesResponse
	err := c.doJSON(ctx, http.MethodGet, "/preferences", nil, &resp)
	return resp.Preferences, err
}

func (c *Client) SetTheme(ctx context.Context, _ string, theme models.Theme) error {
	return c.doJSON(ctx, http.MethodPut, "/preferences/theme", map[string]string{"value": string(theme)}, nil)
}

func (c *Client) SetView(ctx context.Context, _ string, mode models.ViewMode) error {
	return c.doJSON(ctx, http.MethodPut, "/preferences/view", map[string]string{"value": string(mode)}, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("Error trying to parse body to Json: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("Error trying to read the body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func multipartBody(fields map[string][]string, uploads []blob.Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, values := range fields {
		for _, v := range values {
			if err := w.WriteField(name, v); err != nil {
				return nil, "", err
			}
		}
	}
	for _, u := range uploads {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, u.Name))
		header.Set("Content-Type", u.ContentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(u.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func combine(messages []string) error {
	var err error
	for _, msg := range messages {
		err = multierr.Append(err, errors.New(msg))
	}
	return err
}
