// Package sync implements the synchronization engine: one Run pulls remote
// deltas, resolves conflicts, pushes local deltas and advances the cursor,
// against any remote.Store backend.
package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/personalizedrefrigerator/notesync/internal/codec"
	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/keystore"
	"github.com/personalizedrefrigerator/notesync/internal/logging"
	"github.com/personalizedrefrigerator/notesync/internal/models"
	"github.com/personalizedrefrigerator/notesync/internal/remote"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/changes"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/items"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/settings"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/syncstate"
)

// Engine orchestrates sync passes. One Engine serves one remote target; runs
// against the same target are mutually exclusive.
type Engine struct {
	db     *sql.DB
	store  remote.Store
	codec  *codec.Codec
	keys   *keystore.Store
	logger logging.Logger
	opts   Options

	items    *items.SQLiteRepository
	changes  *changes.SQLiteRepository
	syncst   *syncstate.SQLiteRepository
	settings *settings.SQLiteRepository

	running atomic.Bool
	state   atomic.Int32
}

func NewEngine(db *sql.DB, store remote.Store, cdc *codec.Codec, keys *keystore.Store, logger logging.Logger, opts Options) *Engine {
	return &Engine{
		db:       db,
		store:    store,
		codec:    cdc,
		keys:     keys,
		logger:   logger,
		opts:     opts.Normalize(),
		items:    items.NewSQLiteRepository(db),
		changes:  changes.NewSQLiteRepository(db),
		syncst:   syncstate.NewSQLiteRepository(db),
		settings: settings.NewSQLiteRepository(db),
	}
}

// State reports the stage the current (or last) run is in.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// pulledItem is one remote entry selected for this pass.
type pulledItem struct {
	id       string
	revision string
	blob     []byte
	deleted  bool
}

// pushTask is one outgoing operation.
type pushTask struct {
	itemID     string
	itemType   models.ItemType
	changeType models.ChangeType
	token      string
	// purgeSeq bounds which change-log entries the task supersedes once the
	// remote accepts it.
	purgeSeq int64
	// masterKey pushes bypass the item table.
	masterKey *models.MasterKey
}

// pushResult is the outcome of one accepted task, applied to the database
// after the network phase.
type pushResult struct {
	task     pushTask
	revision string
	deleted  bool
}

// Run executes one full sync pass and returns its summary. Per-item failures
// land in the summary; Run returns an error only for run-level causes (an
// incompatible or unreachable remote, cancellation, local storage failure) or
// when another run is already in flight.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, common.ErrSyncInProgress
	}
	defer e.running.Store(false)

	summary := &Summary{}

	e.setState(StateLocating)
	e.logger.Info(ctx, "sync pass started")
	if err := e.withRetry(ctx, func(ctx context.Context) error {
		return e.store.Check(ctx)
	}); err != nil {
		return nil, e.fail(ctx, fmt.Errorf("locating remote: %w", err))
	}

	// snapshot: only entries at or below the boundary are eligible to push
	boundary, err := e.changes.MaxSeq(ctx)
	if err != nil {
		return nil, e.fail(ctx, err)
	}
	states, err := e.syncst.GetAll(ctx)
	if err != nil {
		return nil, e.fail(ctx, err)
	}
	cursor, err := e.loadCursor(ctx)
	if err != nil {
		return nil, e.fail(ctx, err)
	}

	e.setState(StatePulling)
	pulled, newCursor, err := e.pull(ctx, states, cursor, summary)
	if err != nil {
		return nil, e.fail(ctx, fmt.Errorf("pulling deltas: %w", err))
	}

	e.setState(StateResolving)
	extra, err := e.resolve(ctx, pulled, states, boundary, summary)
	if err != nil {
		return nil, e.fail(ctx, fmt.Errorf("resolving: %w", err))
	}

	e.setState(StatePushing)
	if err := e.push(ctx, boundary, states, extra, summary); err != nil {
		return nil, e.fail(ctx, fmt.Errorf("pushing deltas: %w", err))
	}

	e.setState(StateFinalizing)
	if summary.Failed == 0 {
		if err := e.settings.Set(ctx, settings.KeySyncCursor, newCursor); err != nil {
			return nil, e.fail(ctx, err)
		}
	} else {
		e.logger.Warn(ctx, "cursor not advanced, pass had failures", "failed", summary.Failed)
	}

	e.setState(StateIdle)
	e.logger.Info(ctx, "sync pass finished",
		"pulled", summary.Pulled, "pushed", summary.Pushed, "deleted", summary.Deleted,
		"conflicted", summary.Conflicted, "deferred", summary.Deferred, "failed", summary.Failed)
	return summary, nil
}

func (e *Engine) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		e.setState(StateCancelled)
	} else {
		e.setState(StateError)
	}
	e.logger.Error(context.WithoutCancel(ctx), "sync pass aborted", "error", err)
	return err
}

func (e *Engine) loadCursor(ctx context.Context) (string, error) {
	cursor, err := e.settings.Get(ctx, settings.KeySyncCursor)
	if errors.Is(err, common.ErrNotFound) {
		return "", nil
	}
	return cursor, err
}

// pull lists the remote and fetches every item whose revision differs from
// the locally recorded one, plus previously parked pending-decryption items.
// Network fetches run on a bounded pool; fetch failures are per-item.
func (e *Engine) pull(ctx context.Context, states map[string]models.SyncState, cursor string, summary *Summary) ([]pulledItem, string, error) {
	var (
		infos    []remote.ItemInfo
		snapshot bool
	)
	next := cursor
	for {
		page, err := e.withRetryList(ctx, next)
		if err != nil {
			return nil, "", err
		}
		infos = append(infos, page.Items...)
		snapshot = page.Snapshot
		next = page.Cursor
		if !page.HasMore {
			break
		}
	}

	// candidates: changed revisions, plus tombstones (delta stores) or
	// absences (snapshot stores)
	selected := make(map[string]pulledItem)

	pending, err := e.items.ListPendingDecryption(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, it := range pending {
		selected[it.ID] = pulledItem{
			id:       it.ID,
			revision: states[it.ID].RevisionToken,
			blob:     it.EncryptedBlob,
		}
	}

	var toFetch []remote.ItemInfo
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		seen[info.ID] = true
		if info.Deleted {
			if _, known := states[info.ID]; known {
				selected[info.ID] = pulledItem{id: info.ID, revision: info.Revision, deleted: true}
			}
			continue
		}
		if st, ok := states[info.ID]; ok && st.RevisionToken == info.Revision {
			continue
		}
		toFetch = append(toFetch, info)
	}
	if snapshot {
		for id := range states {
			if !seen[id] {
				selected[id] = pulledItem{id: id, deleted: true}
			}
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxParallel)
	for _, info := range toFetch {
		g.Go(func() error {
			var (
				blob []byte
				rev  string
			)
			err := e.withRetry(gctx, func(ctx context.Context) error {
				var err error
				blob, rev, err = e.store.Get(ctx, info.ID)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				selected[info.ID] = pulledItem{id: info.ID, revision: rev, blob: blob}
			case errors.Is(err, common.ErrNotFound):
				// listed then deleted by another device; absence is handled
				// like a tombstone
				if _, known := states[info.ID]; known {
					selected[info.ID] = pulledItem{id: info.ID, deleted: true}
				}
			case common.ClassifyError(err) == common.KindFatal:
				return err
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Errorf("fetching item %s: %w", info.ID, err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	out := make([]pulledItem, 0, len(selected))
	for _, p := range selected {
		out = append(out, p)
	}
	return out, next, nil
}

// resolve applies pulled items to the local database sequentially, detecting
// conflicts with pending local changes. Master keys apply first so items
// encrypted under a key arriving in the same pass decode immediately.
// Returned tasks are resolution outcomes that must be pushed in this pass on
// top of the collapsed change window.
func (e *Engine) resolve(ctx context.Context, pulled []pulledItem, states map[string]models.SyncState, boundary int64, summary *Summary) ([]pushTask, error) {
	sort.Slice(pulled, func(i, j int) bool {
		iKey := isMasterKeyBlob(pulled[i].blob)
		jKey := isMasterKeyBlob(pulled[j].blob)
		if iKey != jKey {
			return iKey
		}
		return pulled[i].id < pulled[j].id
	})

	var extra []pushTask
	for _, p := range pulled {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if p.deleted {
			if err := e.applyRemoteDeletion(ctx, p, states, boundary, summary); err != nil {
				return nil, err
			}
			continue
		}

		item, err := e.codec.Decode(ctx, p.blob, e.keys)
		if err != nil {
			switch common.ClassifyError(err) {
			case common.KindCryptoDeferred:
				if err := e.parkEncrypted(ctx, p, states); err != nil {
					return nil, err
				}
				summary.Deferred++
			case common.KindCorruption:
				summary.Failed++
				summary.Errors = append(summary.Errors, err)
				e.logger.Warn(ctx, "item failed decode, skipping", "item_id", p.id, "error", err)
			case common.KindFatal:
				return nil, err
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, err)
			}
			continue
		}

		if item.Type == models.ItemTypeMasterKey {
			if err := e.keys.ApplyRemote(ctx, item); err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, err)
				continue
			}
			if err := e.recordSynced(ctx, states, p.id, p.revision); err != nil {
				return nil, err
			}
			summary.Pulled++
			continue
		}

		tasks, err := e.applyRemoteItem(ctx, item, p, states, boundary, summary)
		if err != nil {
			return nil, err
		}
		extra = append(extra, tasks...)
	}
	return extra, nil
}

// applyRemoteDeletion handles a tombstone or an absence. A pending local
// edit wins over the remote deletion (undelete); otherwise the local copy
// goes away.
func (e *Engine) applyRemoteDeletion(ctx context.Context, p pulledItem, states map[string]models.SyncState, boundary int64, summary *Summary) error {
	hasLocal, err := e.changes.HasChangesForItem(ctx, p.id, boundary)
	if err != nil {
		return err
	}
	if hasLocal {
		// edited here, deleted elsewhere: keep the item and let the push
		// stage recreate it
		if err := e.syncst.Delete(ctx, p.id); err != nil {
			return err
		}
		delete(states, p.id)
		summary.Conflicted++
		e.logger.Info(ctx, "remote deletion lost to local edit", "item_id", p.id)
		return nil
	}

	if err := e.items.Delete(ctx, p.id); err != nil {
		return err
	}
	if err := e.syncst.Delete(ctx, p.id); err != nil {
		return err
	}
	delete(states, p.id)
	summary.Deleted++
	return nil
}

// parkEncrypted keeps an undecryptable blob locally so the item survives
// until its key arrives.
func (e *Engine) parkEncrypted(ctx context.Context, p pulledItem, states map[string]models.SyncState) error {
	meta, err := codec.PeekMetadata(p.blob)
	if err != nil {
		return err
	}
	meta.EncryptedBlob = p.blob
	if err := e.items.SaveEncrypted(ctx, meta); err != nil {
		return err
	}
	if p.revision == "" {
		return nil
	}
	return e.recordSynced(ctx, states, p.id, p.revision)
}

// applyRemoteItem merges one decoded remote item with local state.
func (e *Engine) applyRemoteItem(ctx context.Context, remoteItem *models.Item, p pulledItem, states map[string]models.SyncState, boundary int64, summary *Summary) ([]pushTask, error) {
	hasLocal, err := e.changes.HasChangesForItem(ctx, p.id, boundary)
	if err != nil {
		return nil, err
	}

	if !hasLocal {
		if err := e.items.Upsert(ctx, remoteItem); err != nil {
			return nil, err
		}
		if err := e.recordSynced(ctx, states, p.id, p.revision); err != nil {
			return nil, err
		}
		summary.Pulled++
		return nil, nil
	}

	localItem, err := e.items.GetByID(ctx, p.id)
	if errors.Is(err, common.ErrNotFound) {
		// deleted here, updated elsewhere: undelete with the remote version
		if err := e.items.Upsert(ctx, remoteItem); err != nil {
			return nil, err
		}
		if err := e.changes.DeleteForItemThrough(ctx, p.id, boundary); err != nil {
			return nil, err
		}
		if err := e.recordSynced(ctx, states, p.id, p.revision); err != nil {
			return nil, err
		}
		summary.Conflicted++
		e.logger.Info(ctx, "local deletion lost to remote edit", "item_id", p.id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if localItem.UpdatedTime == remoteItem.UpdatedTime && bytes.Equal(localItem.Content, remoteItem.Content) {
		// both sides already hold this version, nothing diverged
		if err := e.changes.DeleteForItemThrough(ctx, p.id, boundary); err != nil {
			return nil, err
		}
		if err := e.recordSynced(ctx, states, p.id, p.revision); err != nil {
			return nil, err
		}
		return nil, nil
	}

	winner, loser := pickWinner(localItem, remoteItem)
	return e.mergeConflict(ctx, p, winner, loser, states, boundary, summary)
}

// pickWinner applies last-writer-wins by updated_time. Equal times break on
// the greater content digest, the remote side winning a full tie, so every
// device resolves the same way.
func pickWinner(local, remoteItem *models.Item) (winner, loser *models.Item) {
	switch {
	case local.UpdatedTime > remoteItem.UpdatedTime:
		return local, remoteItem
	case local.UpdatedTime < remoteItem.UpdatedTime:
		return remoteItem, local
	case contentDigest(local) > contentDigest(remoteItem):
		return local, remoteItem
	default:
		return remoteItem, local
	}
}

func contentDigest(item *models.Item) string {
	sum := sha256.Sum256(item.Content)
	return hex.EncodeToString(sum[:])
}

// mergeConflict installs the winner as the canonical item, preserves the
// loser as a conflict copy and queues both for push.
func (e *Engine) mergeConflict(ctx context.Context, p pulledItem, winner, loser *models.Item, states map[string]models.SyncState, boundary int64, summary *Summary) ([]pushTask, error) {
	canonical := *winner
	canonical.TouchPast(loser.UpdatedTime)
	if err := e.items.Upsert(ctx, &canonical); err != nil {
		return nil, err
	}

	copyItem, newFolderID, err := e.createConflictCopy(ctx, loser)
	if err != nil {
		return nil, err
	}

	// the pre-merge entries are superseded by the canonical item
	if err := e.changes.DeleteForItemThrough(ctx, p.id, boundary); err != nil {
		return nil, err
	}
	if err := e.changes.Append(ctx, &models.ItemChange{
		ItemID:      canonical.ID,
		ItemType:    canonical.Type,
		Type:        models.ChangeTypeUpdate,
		CreatedTime: common.NowMilliseconds(),
	}); err != nil {
		return nil, err
	}
	if err := e.recordSynced(ctx, states, p.id, p.revision); err != nil {
		return nil, err
	}

	purgeSeq, err := e.changes.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}

	summary.Conflicted++
	e.logger.Info(ctx, "conflict resolved", "item_id", p.id, "conflict_copy", copyItem.ID)

	tasks := []pushTask{
		{itemID: canonical.ID, itemType: canonical.Type, changeType: models.ChangeTypeUpdate, token: p.revision, purgeSeq: purgeSeq},
		{itemID: copyItem.ID, itemType: copyItem.Type, changeType: models.ChangeTypeCreate, purgeSeq: purgeSeq},
	}
	if newFolderID != "" {
		tasks = append(tasks, pushTask{itemID: newFolderID, itemType: models.ItemTypeFolder, changeType: models.ChangeTypeCreate, purgeSeq: purgeSeq})
	}
	return tasks, nil
}

// createConflictCopy stores the losing version as a new note in the
// conflicts folder. When the folder itself had to be created, its id is
// returned so the caller can push it in the same pass.
func (e *Engine) createConflictCopy(ctx context.Context, loser *models.Item) (*models.Item, string, error) {
	folderID, folderCreated, err := e.ensureConflictFolder(ctx)
	if err != nil {
		return nil, "", err
	}

	note := models.Note{ParentID: folderID}
	if loser.Type == models.ItemTypeNote {
		var orig models.Note
		if err := loser.ContentAs(&orig); err != nil {
			return nil, "", err
		}
		note.Title = orig.Title
		note.Body = orig.Body
	} else {
		note.Title = fmt.Sprintf("%s %s", loser.Type, loser.ID)
		note.Body = string(loser.Content)
	}

	copyItem, err := models.New(models.ItemTypeNote, note)
	if err != nil {
		return nil, "", err
	}
	if err := e.items.Upsert(ctx, copyItem); err != nil {
		return nil, "", err
	}
	if err := e.changes.Append(ctx, &models.ItemChange{
		ItemID:      copyItem.ID,
		ItemType:    copyItem.Type,
		Type:        models.ChangeTypeCreate,
		CreatedTime: common.NowMilliseconds(),
	}); err != nil {
		return nil, "", err
	}
	newFolderID := ""
	if folderCreated {
		newFolderID = folderID
	}
	return copyItem, newFolderID, nil
}

// ensureConflictFolder returns the conflicts folder id and whether the
// folder was created just now. The folder itself synchronizes like any
// other item.
func (e *Engine) ensureConflictFolder(ctx context.Context) (string, bool, error) {
	id, err := e.settings.Get(ctx, settings.KeyConflictFolderID)
	if err == nil {
		if _, err := e.items.GetByID(ctx, id); err == nil {
			return id, false, nil
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return "", false, err
	}

	folder, err := models.New(models.ItemTypeFolder, models.Folder{Title: "Conflicts"})
	if err != nil {
		return "", false, err
	}
	if err := e.items.Upsert(ctx, folder); err != nil {
		return "", false, err
	}
	if err := e.changes.Append(ctx, &models.ItemChange{
		ItemID:      folder.ID,
		ItemType:    folder.Type,
		Type:        models.ChangeTypeCreate,
		CreatedTime: common.NowMilliseconds(),
	}); err != nil {
		return "", false, err
	}
	if err := e.settings.Set(ctx, settings.KeyConflictFolderID, folder.ID); err != nil {
		return "", false, err
	}
	return folder.ID, true, nil
}

func (e *Engine) recordSynced(ctx context.Context, states map[string]models.SyncState, id, revision string) error {
	st := models.SyncState{ItemID: id, RevisionToken: revision, LastSyncedTime: common.NowMilliseconds()}
	if err := e.syncst.Set(ctx, &st); err != nil {
		return err
	}
	states[id] = st
	return nil
}

// push sends the collapsed change window plus resolution outcomes, master
// keys included, with optimistic concurrency. Network operations run on the
// pool; database bookkeeping applies sequentially afterwards.
func (e *Engine) push(ctx context.Context, boundary int64, states map[string]models.SyncState, extra []pushTask, summary *Summary) error {
	window, err := e.changes.ListThrough(ctx, boundary)
	if err != nil {
		return err
	}
	collapsed := changes.Collapse(window, func(itemID string) bool {
		_, ok := states[itemID]
		return ok
	})

	tasks := make(map[string]pushTask)
	for _, c := range collapsed {
		tasks[c.ItemID] = pushTask{
			itemID:     c.ItemID,
			itemType:   c.ItemType,
			changeType: c.Type,
			token:      states[c.ItemID].RevisionToken,
			purgeSeq:   boundary,
		}
	}
	// resolution outcomes supersede the collapsed window for their items
	for _, t := range extra {
		t.token = states[t.itemID].RevisionToken
		tasks[t.itemID] = t
	}

	keyTasks, err := e.masterKeyTasks(ctx, states)
	if err != nil {
		return err
	}
	for _, t := range keyTasks {
		tasks[t.itemID] = t
	}

	itemKey, keyErr := e.pushKey(ctx)

	var (
		mu      sync.Mutex
		results []pushResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxParallel)
	for _, task := range tasks {
		g.Go(func() error {
			res, err := e.pushOne(gctx, task, itemKey, keyErr)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if res != nil {
					results = append(results, *res)
				}
			case errors.Is(err, common.ErrVersionConflict):
				// another device pushed first: keep the queued change and
				// re-pull on the next pass
				summary.Deferred++
				e.logger.Info(gctx, "push rejected, stale revision", "item_id", task.itemID)
			case common.ClassifyError(err) == common.KindCryptoDeferred:
				summary.Deferred++
			case common.ClassifyError(err) == common.KindFatal:
				return err
			default:
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Errorf("pushing item %s: %w", task.itemID, err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		if res.deleted {
			if err := e.syncst.Delete(ctx, res.task.itemID); err != nil {
				return err
			}
			delete(states, res.task.itemID)
			summary.Deleted++
		} else {
			if err := e.recordSynced(ctx, states, res.task.itemID, res.revision); err != nil {
				return err
			}
			summary.Pushed++
		}
		if res.task.purgeSeq > 0 {
			if err := e.changes.DeleteForItemThrough(ctx, res.task.itemID, res.task.purgeSeq); err != nil {
				return err
			}
		}
	}
	return nil
}

// pushKey resolves the encryption handle for outgoing items once per pass.
// A disabled profile pushes plaintext; a locked or missing active key defers
// every encrypting push instead of failing the run.
func (e *Engine) pushKey(ctx context.Context) (*codec.ItemKey, error) {
	enabled, err := e.keys.IsEncryptionEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}
	return e.keys.ActiveKey(ctx)
}

// masterKeyTasks queues wrapped master keys whose record is newer than what
// the remote has seen. Keys ride outside the change log.
func (e *Engine) masterKeyTasks(ctx context.Context, states map[string]models.SyncState) ([]pushTask, error) {
	list, err := e.keys.List(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []pushTask
	for _, key := range list {
		st, ok := states[key.ID]
		if ok && key.UpdatedTime <= st.LastSyncedTime {
			continue
		}
		tasks = append(tasks, pushTask{
			itemID:     key.ID,
			itemType:   models.ItemTypeMasterKey,
			changeType: models.ChangeTypeUpdate,
			token:      st.RevisionToken,
			masterKey:  key,
		})
	}
	return tasks, nil
}

// pushOne performs the network part of one task. A nil result with a nil
// error means the task was superseded locally and there is nothing to send.
func (e *Engine) pushOne(ctx context.Context, task pushTask, itemKey *codec.ItemKey, keyErr error) (*pushResult, error) {
	if task.changeType == models.ChangeTypeDelete {
		err := e.withRetry(ctx, func(ctx context.Context) error {
			return e.store.Delete(ctx, task.itemID, task.token)
		})
		if err != nil {
			return nil, err
		}
		return &pushResult{task: task, deleted: true}, nil
	}

	var (
		item *models.Item
		err  error
	)
	if task.masterKey != nil {
		item, err = keystore.AsItem(task.masterKey)
		if err != nil {
			return nil, err
		}
	} else {
		item, err = e.items.GetByID(ctx, task.itemID)
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if item.PendingDecryption {
			return nil, nil
		}
	}

	// master keys are already passphrase-wrapped and stay plaintext on the
	// wire; everything else encrypts when the profile has a usable key
	key := itemKey
	if item.Type == models.ItemTypeMasterKey {
		key = nil
	} else if keyErr != nil {
		return nil, keyErr
	}

	blob, err := e.codec.Encode(item, key)
	if err != nil {
		return nil, err
	}

	var revision string
	err = e.withRetry(ctx, func(ctx context.Context) error {
		var err error
		revision, err = e.store.Put(ctx, task.itemID, blob, task.token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &pushResult{task: task, revision: revision}, nil
}

// isMasterKeyBlob peeks a blob's type without decrypting.
func isMasterKeyBlob(blob []byte) bool {
	if blob == nil {
		return false
	}
	meta, err := codec.PeekMetadata(blob)
	return err == nil && meta.Type == models.ItemTypeMasterKey
}
