package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/filex"
)

const itemFileExt = ".json"

// FilesystemStore keeps each item as one file in a flat directory, for
// targets shared through a syncing folder (network mount, Dropbox-style
// drives). Revision tokens are content SHA-256 digests, so any writer
// produces the same token for the same bytes.
//
// It is a snapshot store: List enumerates the whole directory and deletions
// show up as absent files.
type FilesystemStore struct {
	dir string
}

func NewFilesystemStore(dir string) *FilesystemStore {
	return &FilesystemStore{dir: dir}
}

func (s *FilesystemStore) Check(ctx context.Context) error {
	if err := filex.EnsureDir(s.dir); err != nil {
		return err
	}

	infoPath := filepath.Join(s.dir, InfoFileName)
	data, err := os.ReadFile(infoPath)
	if errors.Is(err, fs.ErrNotExist) {
		info, err := json.Marshal(Info{SchemaVersion: SchemaVersion})
		if err != nil {
			return err
		}
		return filex.WriteFileAtomic(infoPath, info)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", infoPath, err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("parsing %s: %w", infoPath, err)
	}
	if info.SchemaVersion != SchemaVersion {
		return fmt.Errorf("target schema %d, client speaks %d: %w",
			info.SchemaVersion, SchemaVersion, common.ErrIncompatibleRemote)
	}
	return nil
}

func (s *FilesystemStore) List(ctx context.Context, cursor string) (*Page, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	page := &Page{Snapshot: true}
	for _, e := range entries {
		if e.IsDir() || e.Name() == InfoFileName || !strings.HasSuffix(e.Name(), itemFileExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := strings.TrimSuffix(e.Name(), itemFileExt)
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading item %s: %w", id, err)
		}
		page.Items = append(page.Items, ItemInfo{ID: id, Revision: contentRevision(data)})
	}

	sort.Slice(page.Items, func(i, j int) bool { return page.Items[i].ID < page.Items[j].ID })
	return page, nil
}

func (s *FilesystemStore) Get(ctx context.Context, id string) ([]byte, string, error) {
	data, err := os.ReadFile(s.itemPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("item %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading item %s: %w", id, err)
	}
	return data, contentRevision(data), nil
}

func (s *FilesystemStore) Put(ctx context.Context, id string, blob []byte, ifRevision string) (string, error) {
	current, err := s.currentRevision(id)
	if err != nil {
		return "", err
	}
	if current != ifRevision {
		return "", fmt.Errorf("item %s: have %q want %q: %w", id, current, ifRevision, common.ErrVersionConflict)
	}

	if err := filex.WriteFileAtomic(s.itemPath(id), blob); err != nil {
		return "", err
	}
	return contentRevision(blob), nil
}

func (s *FilesystemStore) Delete(ctx context.Context, id string, ifRevision string) error {
	if ifRevision != "" {
		current, err := s.currentRevision(id)
		if err != nil {
			return err
		}
		if current == "" {
			return nil
		}
		if current != ifRevision {
			return fmt.Errorf("item %s: %w", id, common.ErrVersionConflict)
		}
	}

	err := os.Remove(s.itemPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	return nil
}

func (s *FilesystemStore) itemPath(id string) string {
	return filepath.Join(s.dir, id+itemFileExt)
}

// currentRevision returns "" for an absent item.
func (s *FilesystemStore) currentRevision(id string) (string, error) {
	data, err := os.ReadFile(s.itemPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading item %s: %w", id, err)
	}
	return contentRevision(data), nil
}

func contentRevision(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
