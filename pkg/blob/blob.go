// Package blob stores movement photos in object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrUnsupportedType is returned for payloads that are not an accepted image.
var ErrUnsupportedType = errors.New("unsupported image type")

// ErrNotOwned is returned when a URL does not point into this store.
var ErrNotOwned = errors.New("url not owned by this store")

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Store uploads and removes objects addressed by their public URL.
type Store interface {
	Put(ctx context.Context, prefix string, data []byte) (string, error)
	Delete(ctx context.Context, url string) error
}

// ObjectName builds a collision-free object name and checks the content type.
func ObjectName(prefix string, data []byte) (name, contentType string, err error) {
	contentType = http.DetectContentType(data)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	return path.Join(prefix, uuid.NewString()+ext), contentType, nil
}

// MemoryStore keeps objects in process. Used in tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte
}

// NewMemoryStore creates an empty store serving under baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{baseURL: strings.TrimSuffix(baseURL, "/"), objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, prefix string, data []byte) (string, error) {
	name, _, err := ObjectName(prefix, data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[name] = append([]byte(nil), data...)
	s.mu.Unlock()
	return s.baseURL + "/" + name, nil
}

func (s *MemoryStore) Delete(_ context.Context, url string) error {
	name, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok {
		return ErrNotOwned
	}
	s.mu.Lock()
	delete(s.objects, name)
	s.mu.Unlock()
	return nil
}

// Has reports whether the object behind url exists.
func (s *MemoryStore) Has(url string) bool {
	name, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.objects[name]
	return exists
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
