// Package upload stores finished screenshots and returns the URL they can
// be fetched from.
package upload

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
)

// ContentTypePNG is the content type of every screenshot.
const ContentTypePNG = "image/png"

// Uploader stores data under key and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Func adapts a function to Uploader.
type Func func(ctx context.Context, key string, data []byte, contentType string) (string, error)

func (f Func) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return f(ctx, key, data, contentType)
}

// ScreenshotKey is the object key of an annotation screenshot. variant is
// "regular" or "blurred". Uploaders add their configured prefix.
func ScreenshotKey(annotationID, variant string) string {
	return path.Join("screenshots", annotationID, variant+".png")
}

// objectURL joins base and key, escaping each key segment.
func objectURL(base, key string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("upload: base url: %w", err)
	}
	return u.JoinPath(strings.Split(key, "/")...).String(), nil
}

// Object is one stored object of a Memory uploader.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory keeps objects in memory. It serves tests and the CLI's dry runs.
type Memory struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string]Object
}

// NewMemory creates a Memory uploader whose URLs start with baseURL.
func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: baseURL, objects: make(map[string]Object)}
}

func (m *Memory) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	m.mu.Unlock()
	return objectURL(m.BaseURL, key)
}

// Get returns a stored object.
func (m *Memory) Get(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key]
	return o, ok
}

// Len is the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
