package manifest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/vash/blobstore"
	"github.com/hupe1980/vash/codec"
)

const (
	// FilePrefix prefixes every manifest blob name.
	FilePrefix = "MANIFEST-"
	// CurrentFileName is the pointer to the committed manifest.
	CurrentFileName = "CURRENT"
)

// FileName returns the blob name of manifest id.
func FileName(id uint64) string {
	return fmt.Sprintf("%s%06d.json", FilePrefix, id)
}

func parseFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), ".json"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func errInvalid(msg string) error {
	return fmt.Errorf("%w: manifest: %s", blobstore.ErrCorrupt, msg)
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec used for new manifests.
func WithCodec(c codec.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithClock sets the time source stamped into new manifests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store reads and commits manifests in a blob store.
type Store struct {
	store blobstore.BlobStore
	codec codec.Codec
	now   func() time.Time
	mu    sync.Mutex
}

// NewStore creates a new manifest store.
func NewStore(store blobstore.BlobStore, optFns ...Option) *Store {
	s := &Store{
		store: store,
		codec: codec.Default,
		now:   time.Now,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// Current loads the committed manifest. It returns ErrNotFound when nothing
// was committed yet.
func (s *Store) Current(ctx context.Context) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, name)
}

// Load loads manifest id.
func (s *Store) Load(ctx context.Context, id uint64) (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(ctx, FileName(id))
}

// Commit assigns the next ID to m, writes it and then points CURRENT at it.
// On success m carries its ID, Version, Codec and CreatedAt. If CURRENT
// cannot be updated the manifest blob is removed again.
func (s *Store) Commit(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.ids(ctx)
	if err != nil {
		return err
	}
	var next uint64 = 1
	if len(ids) > 0 {
		next = ids[len(ids)-1] + 1
	}

	m.Version = CurrentVersion
	m.ID = next
	m.Codec = s.codec.Name()
	m.CreatedAt = s.now().UTC()

	data, err := s.codec.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	filename := FileName(m.ID)
	if err := s.store.Put(ctx, filename, data); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	if err := s.store.Put(ctx, CurrentFileName, []byte(filename)); err != nil {
		_ = s.store.Delete(context.WithoutCancel(ctx), filename)
		return fmt.Errorf("update %s: %w", CurrentFileName, err)
	}
	return nil
}

// ListVersions returns all readable manifests, oldest first. Unreadable
// manifests are skipped.
func (s *Store) ListVersions(ctx context.Context) ([]*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.ids(ctx)
	if err != nil {
		return nil, err
	}
	manifests := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		m, err := s.read(ctx, FileName(id))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

// DeleteVersion deletes manifest id. The blobs it names are left alone.
func (s *Store) DeleteVersion(ctx context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Delete(ctx, FileName(id))
}

func (s *Store) current(ctx context.Context) (string, error) {
	content, err := blobstore.ReadFile(ctx, s.store, CurrentFileName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read %s: %w", CurrentFileName, err)
	}
	name := strings.TrimSpace(string(content))
	if _, ok := parseFileName(name); !ok {
		return "", errInvalid(fmt.Sprintf("%s points to %q", CurrentFileName, name))
	}
	return name, nil
}

func (s *Store) ids(ctx context.Context) ([]uint64, error) {
	names, err := s.store.List(ctx, FilePrefix)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	ids := make([]uint64, 0, len(names))
	for _, name := range names {
		if id, ok := parseFileName(name); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) read(ctx context.Context, name string) (*Manifest, error) {
	data, err := blobstore.ReadFile(ctx, s.store, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	var header struct {
		Codec string `json:"codec"`
	}
	if err := (codec.JSON{}).Unmarshal(data, &header); err != nil {
		return nil, errInvalid(fmt.Sprintf("%s: %v", name, err))
	}
	c, ok := codec.ByName(header.Codec)
	if !ok {
		return nil, errInvalid(fmt.Sprintf("%s: unknown codec %q", name, header.Codec))
	}

	m := &Manifest{}
	if err := c.Unmarshal(data, m); err != nil {
		return nil, errInvalid(fmt.Sprintf("%s: %v", name, err))
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}
