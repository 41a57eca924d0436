// Package blob stores task image attachments and hands back stable URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	MaxFileSize = 5 * 1024 * 1024

	// KeyPrefix is the folder every object lives under; URLs are mapped back
	// to keys by splitting on it.
	KeyPrefix = "public/"

	uploadConcurrency = 4
)

var AllowedTypes = []string{"image/jpeg", "image/png", "image/webp"}

var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrInvalidURL      = errors.New("url does not belong to this store")
)

// Upload is one file as received from a client.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

func (u Upload) Size() int64 { return int64(len(u.Data)) }

// Store puts objects and deletes them again by the URL Put returned.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

func Validate(u Upload) error {
	if u.Size() > MaxFileSize {
		return fmt.Errorf("%w: %s is %s, limit is %s", ErrFileTooLarge,
			u.Name, humanize.IBytes(uint64(u.Size())), humanize.IBytes(MaxFileSize))
	}
	if !slices.Contains(AllowedTypes, u.ContentType) {
		return fmt.Errorf("%w: %s has type %q, only JPEG, PNG and WebP are allowed",
			ErrUnsupportedType, u.Name, u.ContentType)
	}
	return nil
}

// ValidateAll checks every upload and reports the first failure.
func ValidateAll(uploads []Upload) error {
	for _, u := range uploads {
		if err := Validate(u); err != nil {
			return err
		}
	}
	return nil
}

// ObjectKey builds public/{uid}/{millis}-{random}-{name}.
func ObjectKey(uid, name string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		base = "upload"
	}
	return fmt.Sprintf("%s%s/%d-%s-%s", KeyPrefix, uid, now.UnixMilli(), random, base)
}

// KeyFromURL strips baseURL from url. The remainder must start with
// KeyPrefix.
func KeyFromURL(baseURL, url string) (string, error) {
	base := strings.TrimSuffix(baseURL, "/") + "/"
	key, ok := strings.CutPrefix(url, base)
	if !ok || !strings.HasPrefix(key, KeyPrefix) || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, url)
	}
	return key, nil
}

// OwnedBy reports whether url names an object ObjectKey could have built for
// uid: public/{uid}/{name} with a single-segment name.
func OwnedBy(uid, url string) bool {
	if strings.TrimSpace(uid) == "" || strings.Contains(url, "..") {
		return false
	}
	marker := "/" + KeyPrefix + uid + "/"
	i := strings.LastIndex(url, marker)
	if i < 0 || strings.Contains(url[:i], "/"+KeyPrefix) {
		return false
	}
	name := url[i+len(marker):]
	return name != "" && !strings.ContainsAny(name, "/?#")
}

// UploadAll uploads every file concurrently and waits for all of them. A
// failed upload is logged and left out; the returned URLs keep the input
// order of the files that succeeded.
func UploadAll(ctx context.Context, store Store, logger *slog.Logger, uid string, uploads []Upload) []string {
	results := make([]string, len(uploads))

	var g errgroup.Group
	g.SetLimit(uploadConcurrency)
	for i, u := range uploads {
		g.Go(func() error {
			url, err := store.Put(ctx, ObjectKey(uid, u.Name, time.Now()), u.ContentType, u.Data)
			if err != nil {
				logger.Error("image upload failed",
					slog.String("uid", uid),
					slog.String("file", u.Name),
					slog.Any("err", err))
				return nil
			}
			results[i] = url
			return nil
		})
	}
	_ = g.Wait()

	urls := make([]string, 0, len(uploads))
	for _, url := range results {
		if url != "" {
			urls = append(urls, url)
		}
	}
	return urls
}

// DeleteAll removes every URL concurrently. Failures are logged and do not
// stop the others.
func DeleteAll(ctx context.Context, store Store, logger *slog.Logger, urls []string) {
	var g errgroup.Group
	g.SetLimit(uploadConcurrency)
	for _, url := range urls {
		if url == "" {
			continue
		}
		g.Go(func() error {
			if err := store.Delete(ctx, url); err != nil {
				logger.Warn("image delete failed", slog.String("url", url), slog.Any("err", err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
