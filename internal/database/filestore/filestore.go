// Package filestore persists the gallery as a single CBOR file. The file is
// replaced atomically on every save and carries a BLAKE3 checksum of its
// payload, so a torn or edited file is reported instead of half-loaded.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
	"github.com/google/renameio"
	"github.com/zeebo/blake3"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

const (
	formatVersion = 1

	lockSuffix     = ".lock"
	lockRetryDelay = 20 * time.Millisecond
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("filestore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("filestore: CBOR decoder initialization failed: " + err.Error())
	}

	database.RegisterGalleryBackend(config.BackendFile, func(ctx context.Context, cfg *config.Config) (database.GalleryStore, io.Closer, error) {
		return NewGalleryStore(cfg.Storage.GalleryPath), nil, nil
	})
}

// envelope is the on-disk layout. Payload is the CBOR encoding of galleryFile.
type envelope struct {
	Version  int      `cbor:"1,keyasint"`
	Payload  []byte   `cbor:"2,keyasint"`
	Checksum [32]byte `cbor:"3,keyasint"`
}

// galleryFile keeps identities as parallel lists, one entry per identity.
type galleryFile struct {
	Dim        int         `cbor:"1,keyasint"`
	IDs        []string    `cbor:"2,keyasint"`
	Names      []string    `cbor:"3,keyasint"`
	Embeddings [][]float32 `cbor:"4,keyasint"`
	EnrolledAt []int64     `cbor:"5,keyasint"` // unix milliseconds
}

// GalleryStore reads and writes the gallery file at path.
type GalleryStore struct {
	path string
	mu   sync.Mutex
}

// NewGalleryStore creates a store for path. The file is created on first save.
func NewGalleryStore(path string) *GalleryStore {
	return &GalleryStore{path: path}
}

// Path returns the gallery file location.
func (s *GalleryStore) Path() string {
	return s.path
}

// Load reads the gallery file. A missing file is an empty gallery.
func (s *GalleryStore) Load(ctx context.Context) (database.GallerySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Save atomically replaces the gallery file with snapshot.
func (s *GalleryStore) Save(ctx context.Context, snapshot database.GallerySnapshot) error {
	data, err := encode(snapshot)
	if err != nil {
		return fmt.Errorf("encode gallery: %w", err)
	}
	return s.locked(ctx, func() error {
		return s.write(data)
	})
}

// Update rewrites the gallery file from fn's result. The sibling lock file
// keeps other processes sharing the gallery out until the new file is in place.
func (s *GalleryStore) Update(ctx context.Context, fn func(database.GallerySnapshot) (database.GallerySnapshot, error)) error {
	return s.locked(ctx, func() error {
		current, err := s.read()
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		data, err := encode(next)
		if err != nil {
			return fmt.Errorf("encode gallery: %w", err)
		}
		return s.write(data)
	})
}

// locked runs fn holding both the in-process mutex and the lock file.
func (s *GalleryStore) locked(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return database.Persistence("create gallery directory", err)
		}
	}

	lock := flock.New(s.path + lockSuffix)
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err == nil && !ok {
		err = errors.New("lock not acquired")
	}
	if err != nil {
		return database.Persistence("lock gallery file", err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

func (s *GalleryStore) write(data []byte) error {
	if err := renameio.WriteFile(s.path, data, 0o600); err != nil {
		return database.Persistence("write gallery file", err)
	}
	return nil
}

// read loads the file. Caller holds mu.
func (s *GalleryStore) read() (database.GallerySnapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return database.GallerySnapshot{}, nil
	}
	if err != nil {
		return database.GallerySnapshot{}, database.Persistence("read gallery file", err)
	}
	return decode(data)
}

func encode(snapshot database.GallerySnapshot) ([]byte, error) {
	file := galleryFile{
		Dim:        snapshot.Dim,
		IDs:        make([]string, len(snapshot.Identities)),
		Names:      make([]string, len(snapshot.Identities)),
		Embeddings: make([][]float32, len(snapshot.Identities)),
		EnrolledAt: make([]int64, len(snapshot.Identities)),
	}
	for i, id := range snapshot.Identities {
		file.IDs[i] = id.ID
		file.Names[i] = id.Name
		file.Embeddings[i] = id.Embedding
		file.EnrolledAt[i] = id.EnrolledAt.UnixMilli()
	}

	payload, err := encMode.Marshal(file)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(envelope{
		Version:  formatVersion,
		Payload:  payload,
		Checksum: checksum(payload),
	})
}

func decode(data []byte) (database.GallerySnapshot, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return database.GallerySnapshot{}, fmt.Errorf("%w: decode gallery file: %v", database.ErrCorrupt, err)
	}
	if env.Version != formatVersion {
		return database.GallerySnapshot{}, fmt.Errorf("%w: unsupported gallery format version %d", database.ErrCorrupt, env.Version)
	}
	if checksum(env.Payload) != env.Checksum {
		return database.GallerySnapshot{}, fmt.Errorf("%w: gallery checksum mismatch", database.ErrCorrupt)
	}

	var file galleryFile
	if err := decMode.Unmarshal(env.Payload, &file); err != nil {
		return database.GallerySnapshot{}, fmt.Errorf("%w: decode gallery payload: %v", database.ErrCorrupt, err)
	}

	n := len(file.IDs)
	if len(file.Names) != n || len(file.Embeddings) != n || len(file.EnrolledAt) != n {
		return database.GallerySnapshot{}, fmt.Errorf("%w: gallery lists differ in length (ids=%d names=%d embeddings=%d enrolled=%d)",
			database.ErrCorrupt, n, len(file.Names), len(file.Embeddings), len(file.EnrolledAt))
	}

	snapshot := database.GallerySnapshot{
		Dim:        file.Dim,
		Identities: make([]database.StoredIdentity, n),
	}
	for i := range n {
		snapshot.Identities[i] = database.StoredIdentity{
			ID:         file.IDs[i],
			Name:       file.Names[i],
			Embedding:  file.Embeddings[i],
			EnrolledAt: time.UnixMilli(file.EnrolledAt[i]).UTC(),
		}
	}
	return snapshot, nil
}

func checksum(payload []byte) [32]byte {
	return blake3.Sum256(payload)
}
