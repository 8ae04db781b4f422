package remote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

type memoryItem struct {
	blob        []byte
	revision    int64
	updatedTime int64
	deleted     bool
	changestamp int64
}

// MemoryStore is an in-process Store used by tests and by the engine's own
// test suite. It is a delta store: List returns entries changed since the
// cursor, deletions included as tombstones.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	stamp int64

	failNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*memoryItem)}
}

// FailNext makes the next store call return err. Test helper.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Corrupt overwrites an item's blob in place without touching its revision.
// Test helper for integrity-failure scenarios.
func (s *MemoryStore) Corrupt(id string, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok {
		it.blob = blob
	}
}

// Len reports how many live (non-tombstoned) items the store holds.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

func (s *MemoryStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *MemoryStore) Check(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeFailure()
}

func (s *MemoryStore) List(ctx context.Context, cursor string) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}

	var since int64
	if cursor != "" {
		v, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		since = v
	}

	var changed []*memoryItem
	ids := make(map[*memoryItem]string)
	for id, it := range s.items {
		if it.changestamp > since {
			changed = append(changed, it)
			ids[it] = id
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].changestamp < changed[j].changestamp })

	page := &Page{Cursor: cursor}
	for _, it := range changed {
		page.Items = append(page.Items, ItemInfo{
			ID:          ids[it],
			Revision:    strconv.FormatInt(it.revision, 10),
			UpdatedTime: it.updatedTime,
			Deleted:     it.deleted,
		})
		page.Cursor = strconv.FormatInt(it.changestamp, 10)
	}
	return page, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, "", err
	}

	it, ok := s.items[id]
	if !ok || it.deleted {
		return nil, "", fmt.Errorf("item %s: %w", id, common.ErrNotFound)
	}
	blob := make([]byte, len(it.blob))
	copy(blob, it.blob)
	return blob, strconv.FormatInt(it.revision, 10), nil
}

func (s *MemoryStore) Put(ctx context.Context, id string, blob []byte, ifRevision string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return "", err
	}

	it, exists := s.items[id]
	current := ""
	if exists && !it.deleted {
		current = strconv.FormatInt(it.revision, 10)
	}
	if current != ifRevision {
		return "", fmt.Errorf("item %s: have %q want %q: %w", id, current, ifRevision, common.ErrVersionConflict)
	}

	s.stamp++
	if !exists {
		it = &memoryItem{}
		s.items[id] = it
	}
	it.blob = make([]byte, len(blob))
	copy(it.blob, blob)
	it.revision++
	it.deleted = false
	it.changestamp = s.stamp
	return strconv.FormatInt(it.revision, 10), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string, ifRevision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}

	it, exists := s.items[id]
	if !exists || it.deleted {
		return nil
	}
	if ifRevision != "" && ifRevision != strconv.FormatInt(it.revision, 10) {
		return fmt.Errorf("item %s: %w", id, common.ErrVersionConflict)
	}

	s.stamp++
	it.blob = nil
	it.revision++
	it.deleted = true
	it.changestamp = s.stamp
	return nil
}
