package database

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// SessionBackendOpener opens a session store. The returned closer releases the
// backend's resources and may be nil.
type SessionBackendOpener func(ctx context.Context, cfg *config.Config) (SessionStore, io.Closer, error)

// GalleryBackendOpener opens a gallery store.
type GalleryBackendOpener func(ctx context.Context, cfg *config.Config) (GalleryStore, io.Closer, error)

var (
	backendsMu      sync.RWMutex
	sessionBackends = make(map[string]SessionBackendOpener)
	galleryBackends = make(map[string]GalleryBackendOpener)
)

// RegisterSessionBackend registers a session store constructor under name.
// This is called by the backend packages to avoid import cycles.
func RegisterSessionBackend(name string, open SessionBackendOpener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	sessionBackends[name] = open
}

// RegisterGalleryBackend registers a gallery store constructor under name.
func RegisterGalleryBackend(name string, open GalleryBackendOpener) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	galleryBackends[name] = open
}

// OpenSessionStore opens the session backend selected in cfg.
func OpenSessionStore(ctx context.Context, cfg *config.Config) (SessionStore, io.Closer, error) {
	name := cfg.Storage.SessionBackend
	backendsMu.RLock()
	open, ok := sessionBackends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("session backend %q not registered (available: %v)", name, SessionBackends())
	}

	store, closer, err := open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s session store: %w", name, err)
	}
	return store, closer, nil
}

// OpenGalleryStore opens the gallery backend selected in cfg.
func OpenGalleryStore(ctx context.Context, cfg *config.Config) (GalleryStore, io.Closer, error) {
	name := cfg.Storage.GalleryBackend
	backendsMu.RLock()
	open, ok := galleryBackends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("gallery backend %q not registered (available: %v)", name, GalleryBackends())
	}

	store, closer, err := open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s gallery store: %w", name, err)
	}
	return store, closer, nil
}

// SessionBackends returns the registered session backend names, sorted.
func SessionBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return sortedKeys(sessionBackends)
}

// GalleryBackends returns the registered gallery backend names, sorted.
func GalleryBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	return sortedKeys(galleryBackends)
}

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
