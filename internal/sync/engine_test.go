package sync

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personalizedrefrigerator/notesync/internal/codec"
	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/cryptox"
	"github.com/personalizedrefrigerator/notesync/internal/keystore"
	"github.com/personalizedrefrigerator/notesync/internal/logging"
	"github.com/personalizedrefrigerator/notesync/internal/models"
	"github.com/personalizedrefrigerator/notesync/internal/remote"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/items"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/keys"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/settings"
	"github.com/personalizedrefrigerator/notesync/internal/services"

	_ "modernc.org/sqlite"
)

const profileSchema = `
CREATE TABLE items (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  created_time INTEGER NOT NULL,
  updated_time INTEGER NOT NULL,
  encryption_applied INTEGER NOT NULL DEFAULT 0,
  pending_decryption INTEGER NOT NULL DEFAULT 0,
  content BLOB,
  sync_blob BLOB
);
CREATE TABLE item_changes (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  item_id TEXT NOT NULL,
  item_type TEXT NOT NULL,
  change_type TEXT NOT NULL,
  created_time INTEGER NOT NULL
);
CREATE TABLE sync_state (
  item_id TEXT PRIMARY KEY,
  revision_token TEXT NOT NULL,
  last_synced_time INTEGER NOT NULL
);
CREATE TABLE master_keys (
  id TEXT PRIMARY KEY,
  created_time INTEGER NOT NULL,
  updated_time INTEGER NOT NULL,
  encryption_method INTEGER NOT NULL,
  checksum TEXT NOT NULL,
  salt BLOB,
  nonce BLOB,
  content BLOB NOT NULL,
  has_been_used INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE settings (
  name TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`

// device bundles one simulated client: its own profile database, key store
// and engine, all pointed at a shared store.
type device struct {
	db     *sql.DB
	svc    *services.ItemService
	keys   *keystore.Store
	engine *Engine
}

func newDevice(t *testing.T, store remote.Store) *device {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(profileSchema)
	require.NoError(t, err)

	logger := logging.NewNopLogger()
	reg := cryptox.DefaultRegistry()
	ks := keystore.New(keys.NewSQLiteRepository(db), settings.NewSQLiteRepository(db), reg, logger)
	cdc := codec.New(reg)

	return &device{
		db:   db,
		svc:  services.NewItemService(db, logger),
		keys: ks,
		engine: NewEngine(db, store, cdc, ks, logger, Options{
			RetryBase: time.Millisecond,
			RetryCap:  2 * time.Millisecond,
		}),
	}
}

func (d *device) run(t *testing.T) *Summary {
	t.Helper()
	s, err := d.engine.Run(context.Background())
	require.NoError(t, err)
	return s
}

func (d *device) note(t *testing.T, id string) models.Note {
	t.Helper()
	item, err := d.svc.Get(context.Background(), id)
	require.NoError(t, err)
	var n models.Note
	require.NoError(t, item.ContentAs(&n))
	return n
}

func (d *device) setUpdatedTime(t *testing.T, id string, ts int64) {
	t.Helper()
	_, err := d.db.Exec(`UPDATE items SET updated_time = ? WHERE id = ?`, ts, id)
	require.NoError(t, err)
}

func TestRun_PushThenPullAcrossDevices(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	b := newDevice(t, store)
	ctx := context.Background()

	created, err := a.svc.Create(ctx, models.Note{Title: "hello", Body: "from a"})
	require.NoError(t, err)

	s := a.run(t)
	assert.Equal(t, 1, s.Pushed)
	assert.Zero(t, s.Failed)
	assert.Equal(t, 1, store.Len())

	s = b.run(t)
	assert.Equal(t, 1, s.Pulled)
	assert.Equal(t, "hello", b.note(t, created.ID).Title)

	// pulling again with no remote change is a no-op
	s = b.run(t)
	assert.Zero(t, s.Pulled)
	assert.Zero(t, s.Pushed)
}

func TestRun_DeletePropagates(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	b := newDevice(t, store)
	ctx := context.Background()

	created, err := a.svc.Create(ctx, models.Note{Title: "doomed"})
	require.NoError(t, err)
	a.run(t)
	b.run(t)

	require.NoError(t, a.svc.Delete(ctx, created.ID))
	s := a.run(t)
	assert.Equal(t, 1, s.Deleted)
	assert.Zero(t, store.Len())

	s = b.run(t)
	assert.Equal(t, 1, s.Deleted)
	_, err = b.svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRun_CreateThenDeleteNeverPushed(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	ctx := context.Background()

	created, err := a.svc.Create(ctx, models.Note{Title: "ephemeral"})
	require.NoError(t, err)
	require.NoError(t, a.svc.Delete(ctx, created.ID))

	s := a.run(t)
	assert.Zero(t, s.Pushed)
	assert.Zero(t, s.Deleted)
	assert.Zero(t, store.Len())
}

func TestRun_TwoDeviceEditConflict(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	b := newDevice(t, store)
	ctx := context.Background()

	created, err := a.svc.Create(ctx, models.Note{Title: "original"})
	require.NoError(t, err)
	a.run(t)
	b.run(t)

	// both edit offline; A is the earlier writer
	_, err = a.svc.Update(ctx, created.ID, models.Note{Title: "X"})
	require.NoError(t, err)
	a.setUpdatedTime(t, created.ID, 10)

	_, err = b.svc.Update(ctx, created.ID, models.Note{Title: "Y"})
	require.NoError(t, err)
	b.setUpdatedTime(t, created.ID, 12)

	a.run(t)

	s := b.run(t)
	assert.Equal(t, 1, s.Conflicted)

	// the later writer wins and the loser survives as a conflict copy
	assert.Equal(t, "Y", b.note(t, created.ID).Title)

	canonical, err := b.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Greater(t, canonical.UpdatedTime, int64(12))

	copies := findConflictCopies(t, b, created.ID)
	require.Len(t, copies, 1)
	assert.Equal(t, "X", copies[0].Title)

	// the resolution propagates back to the first device
	s = a.run(t)
	assert.Zero(t, s.Failed)
	assert.Equal(t, "Y", a.note(t, created.ID).Title)
	require.Len(t, findConflictCopies(t, a, created.ID), 1)
}

func TestRun_EqualTimestampConflictBreaksOnDigest(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	b := newDevice(t, store)
	ctx := context.Background()

	created, err := a.svc.Create(ctx, models.Note{Title: "original"})
	require.NoError(t, err)
	a.run(t)
	b.run(t)

	// both edit offline with an identical clock reading
	_, err = a.svc.Update(ctx, created.ID, models.Note{Title: "left"})
	require.NoError(t, err)
	a.setUpdatedTime(t, created.ID, 10)

	_, err = b.svc.Update(ctx, created.ID, models.Note{Title: "right"})
	require.NoError(t, err)
	b.setUpdatedTime(t, created.ID, 10)

	// the greater content digest decides, so compute the expected outcome
	// from the two payloads
	fromA, err := a.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	fromB, err := b.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	wantWinner, wantLoser := "right", "left"
	if contentDigest(fromA) > contentDigest(fromB) {
		wantWinner, wantLoser = "left", "right"
	}

	a.run(t)
	s := b.run(t)
	assert.Equal(t, 1, s.Conflicted)

	assert.Equal(t, wantWinner, b.note(t, created.ID).Title)
	canonical, err := b.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Greater(t, canonical.UpdatedTime, int64(10))

	copies := findConflictCopies(t, b, created.ID)
	require.Len(t, copies, 1)
	assert.Equal(t, wantLoser, copies[0].Title)

	// the other device converges on the same canonical version
	s = a.run(t)
	assert.Zero(t, s.Failed)
	assert.Equal(t, wantWinner, a.note(t, created.ID).Title)
	require.Len(t, findConflictCopies(t, a, created.ID), 1)
}

// findConflictCopies returns notes living in the conflicts folder, excluding
// the canonical item.
func findConflictCopies(t *testing.T, d *device, canonicalID string) []models.Note {
	t.Helper()
	ctx := context.Background()

	folders, err := d.svc.List(ctx, models.ItemTypeFolder)
	require.NoError(t, err)
	var folderID string
	for _, f := range folders {
		var folder models.Folder
		require.NoError(t, f.ContentAs(&folder))
		if folder.Title == "Conflicts" {
			folderID = f.ID
		}
	}
	if folderID == "" {
		return nil
	}

	notes, err := d.svc.List(ctx, models.ItemTypeNote)
	require.NoError(t, err)
	var out []models.Note
	for _, it := range notes {
		if it.ID == canonicalID {
			continue
		}
		var n models.Note
		require.NoError(t, it.ContentAs(&n))
		if n.ParentID == folderID {
			out = append(out, n)
		}
	}
	return out
}

// hookStore runs a callback once, right before the first Put, to simulate
// another device racing a push mid-pass.
type hookStore struct {
	remote.Store
	once      stdsync.Once
	beforePut func()
}

func (h *hookStore) Put(ctx context.Context, id string, blob []byte, ifRevision string) (string, error) {
	h.once.Do(h.beforePut)
	return h.Store.Put(ctx, id, blob, ifRevision)
}

func TestRun_StalePushRequeuedForNextPass(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	ctx := context.Background()

	created, err := a.svc.Create(ctx, models.Note{Title: "original"})
	require.NoError(t, err)
	a.run(t)

	hooked := &hookStore{Store: store}
	b := newDevice(t, hooked)
	b.run(t)

	_, err = b.svc.Update(ctx, created.ID, models.Note{Title: "from b"})
	require.NoError(t, err)

	// A pushes first, after B's pull already happened
	hooked.beforePut = func() {
		_, err := a.svc.Update(ctx, created.ID, models.Note{Title: "from a"})
		assert.NoError(t, err)
		_, err = a.engine.Run(ctx)
		assert.NoError(t, err)
	}

	s := b.run(t)
	assert.Equal(t, 1, s.Deferred)
	assert.Zero(t, s.Pushed)

	// the queued change survived the rejection
	assert.Equal(t, "from b", b.note(t, created.ID).Title)

	// the next pass re-pulls, resolves and pushes; nothing is lost
	s = b.run(t)
	assert.Equal(t, 1, s.Conflicted)
	assert.Zero(t, s.Failed)

	titles := map[string]bool{}
	notes, err := b.svc.List(ctx, models.ItemTypeNote)
	require.NoError(t, err)
	for _, it := range notes {
		var n models.Note
		require.NoError(t, it.ContentAs(&n))
		titles[n.Title] = true
	}
	assert.True(t, titles["from a"], "one side must be canonical")
	assert.True(t, titles["from b"], "the other must survive as a copy")
}

func TestRun_DeleteVersusEditUndeletes(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	b := newDevice(t, store)
	ctx := context.Background()

	created, err := a.svc.Create(ctx, models.Note{Title: "contested"})
	require.NoError(t, err)
	a.run(t)
	b.run(t)

	require.NoError(t, a.svc.Delete(ctx, created.ID))
	a.run(t)

	_, err = b.svc.Update(ctx, created.ID, models.Note{Title: "still here"})
	require.NoError(t, err)

	s := b.run(t)
	assert.Equal(t, 1, s.Conflicted)
	assert.Equal(t, "still here", b.note(t, created.ID).Title)

	// the edit wins on the first device too
	s = a.run(t)
	assert.Zero(t, s.Failed)
	assert.Equal(t, "still here", a.note(t, created.ID).Title)
}

func TestRun_EncryptedEndToEndWithDeferredKey(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	b := newDevice(t, store)
	ctx := context.Background()

	require.NoError(t, a.keys.EnableEncryption(ctx, []byte("shared-pass")))
	created, err := a.svc.Create(ctx, models.Note{Title: "secret", Body: "encrypted body"})
	require.NoError(t, err)

	s := a.run(t)
	assert.Zero(t, s.Failed)

	// the blob on the remote is an envelope, not plaintext
	blob, _, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "encrypted body")

	// first pass on B: the key arrives but stays locked, the note is parked
	s = b.run(t)
	assert.Equal(t, 1, s.Pulled, "master key applied")
	assert.Equal(t, 1, s.Deferred, "note parked until unlock")

	item, err := b.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, item.PendingDecryption)

	// unlocking and syncing again makes it readable, nothing lost
	n, err := b.keys.Unlock(ctx, []byte("shared-pass"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s = b.run(t)
	assert.Equal(t, 1, s.Pulled)
	assert.Zero(t, s.Deferred)

	got := b.note(t, created.ID)
	assert.Equal(t, "secret", got.Title)
	assert.Equal(t, "encrypted body", got.Body)
}

func TestRun_KeyAndNoteArrivingTogetherParkOnce(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	ctx := context.Background()

	require.NoError(t, a.keys.EnableEncryption(ctx, []byte("pw")))
	created, err := a.svc.Create(ctx, models.Note{Title: "secret"})
	require.NoError(t, err)
	a.run(t)

	// key and note arrive in the same pass; the key applies before the note
	// is decoded, but stays locked until the passphrase is supplied
	b := newDevice(t, store)
	s := b.run(t)
	assert.Equal(t, 1, s.Pulled)
	assert.Equal(t, 1, s.Deferred)

	n, err := b.keys.Unlock(ctx, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b.run(t)
	assert.Equal(t, "secret", b.note(t, created.ID).Title)
}

func TestRun_CorruptedItemFailsAloneAndHoldsCursor(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	ctx := context.Background()

	require.NoError(t, a.keys.EnableEncryption(ctx, []byte("pw")))
	bad, err := a.svc.Create(ctx, models.Note{Title: "will corrupt"})
	require.NoError(t, err)
	good, err := a.svc.Create(ctx, models.Note{Title: "fine"})
	require.NoError(t, err)
	a.run(t)

	store.Corrupt(bad.ID, flipCiphertext(t, store, bad.ID))

	b := newDevice(t, store)
	b.run(t) // key arrives, both notes park locked
	_, err = b.keys.Unlock(ctx, []byte("pw"))
	require.NoError(t, err)

	s := b.run(t)
	assert.Equal(t, 1, s.Pulled)
	assert.Equal(t, 1, s.Failed, "corrupted item fails alone")
	require.NotEmpty(t, s.Errors)
	assert.ErrorIs(t, s.Errors[0], common.ErrIntegrity)
	assert.Equal(t, "fine", b.note(t, good.ID).Title)

	// the failed item is retried, never silently dropped
	s = b.run(t)
	assert.Equal(t, 1, s.Failed)
}

// flipCiphertext returns the item's blob with one ciphertext byte flipped,
// leaving the JSON framing intact.
func flipCiphertext(t *testing.T, store *remote.MemoryStore, id string) []byte {
	t.Helper()
	blob, _, err := store.Get(context.Background(), id)
	require.NoError(t, err)

	var parsed map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(blob, &parsed))
	var env map[string]any
	require.NoError(t, json.Unmarshal(parsed["envelope"], &env))

	ct, err := base64.StdEncoding.DecodeString(env["ciphertext"].(string))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xFF
	env["ciphertext"] = base64.StdEncoding.EncodeToString(ct)

	envBytes, err := json.Marshal(env)
	require.NoError(t, err)
	parsed["envelope"] = envBytes
	out, err := json.Marshal(parsed)
	require.NoError(t, err)
	return out
}

func TestRun_IncompatibleRemoteIsFatal(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)

	store.FailNext(common.ErrIncompatibleRemote)
	_, err := a.engine.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrIncompatibleRemote)
	assert.Equal(t, StateError, a.engine.State())
}

func TestRun_SecondConcurrentRunRejected(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)

	release := make(chan struct{})
	started := make(chan struct{})
	gated := &gateStore{Store: store, started: started, release: release}
	a.engine.store = gated

	done := make(chan error, 1)
	go func() {
		_, err := a.engine.Run(context.Background())
		done <- err
	}()

	<-started
	_, err := a.engine.Run(context.Background())
	assert.ErrorIs(t, err, common.ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
}

type gateStore struct {
	remote.Store
	started chan struct{}
	release chan struct{}
	once    stdsync.Once
}

func (g *gateStore) Check(ctx context.Context) error {
	g.once.Do(func() {
		close(g.started)
		<-g.release
	})
	return g.Store.Check(ctx)
}

func TestRun_CancellationLeavesCommittedWork(t *testing.T) {
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := a.svc.Create(ctx, models.Note{Title: "n"})
	require.NoError(t, err)

	cancel()
	_, err = a.engine.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, StateCancelled, a.engine.State())

	// the queued change is intact for the next run
	s := a.run(t)
	assert.Equal(t, 1, s.Pushed)
}

func TestRun_PendingItemStillPushableAfterDecode(t *testing.T) {
	// a parked item must never be pushed in its undecoded form
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	ctx := context.Background()

	require.NoError(t, a.keys.EnableEncryption(ctx, []byte("pw")))
	created, err := a.svc.Create(ctx, models.Note{Title: "secret"})
	require.NoError(t, err)
	a.run(t)

	b := newDevice(t, store)
	b.run(t) // parks the note, key locked

	item, err := items.NewSQLiteRepository(b.db).GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, item.PendingDecryption)

	// no push happened for the parked item, remote still has one revision
	_, rev, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", rev)
}
