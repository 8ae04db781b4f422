// Package keystore manages the lifecycle of master keys: creation, wrapping
// under a passphrase, unlocking, rotation, and exchange with other devices.
// Unwrapped key material lives only in memory; everything that reaches the
// database or the sync target is wrapped.
package keystore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/personalizedrefrigerator/notesync/internal/codec"
	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/cryptox"
	"github.com/personalizedrefrigerator/notesync/internal/logging"
	"github.com/personalizedrefrigerator/notesync/internal/models"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/keys"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/settings"
)

const masterKeyBytes = 32

// Store is the master key manager. It implements codec.KeyResolver.
type Store struct {
	mu       sync.Mutex
	keys     keys.Repository
	settings settings.Repository
	ciphers  *cryptox.Registry
	logger   logging.Logger

	// unwrapped material by key id, populated by CreateMasterKey and Unlock
	unlocked map[string][]byte
}

func New(keysRepo keys.Repository, settingsRepo settings.Repository, ciphers *cryptox.Registry, logger logging.Logger) *Store {
	return &Store{
		keys:     keysRepo,
		settings: settingsRepo,
		ciphers:  ciphers,
		logger:   logger,
		unlocked: make(map[string][]byte),
	}
}

// CreateMasterKey generates fresh key material, wraps it under the
// passphrase and persists the wrapped record. The new key is immediately
// usable without a separate Unlock.
func (s *Store) CreateMasterKey(ctx context.Context, passphrase []byte) (*models.MasterKey, error) {
	cipher, err := s.ciphers.Symmetric(cryptox.AlgorithmAES256GCM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCryptoUnavailable, err)
	}

	material := common.GenerateRandByteArray(masterKeyBytes)
	salt := common.GenerateRandByteArray(masterKeyBytes)

	kek := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(kek)

	wrapped, nonce, err := cipher.Encrypt(material, kek)
	if err != nil {
		return nil, fmt.Errorf("wrapping key material: %w", err)
	}

	now := common.NowMilliseconds()
	key := &models.MasterKey{
		ID:               uuid.NewString(),
		CreatedTime:      now,
		UpdatedTime:      now,
		EncryptionMethod: models.EncryptionMethodAES256GCM,
		Checksum:         cryptox.Checksum(wrapped),
		Salt:             salt,
		Nonce:            nonce,
		Content:          wrapped,
		HasBeenUsed:      true,
	}
	if err := s.keys.Upsert(ctx, key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.unlocked[key.ID] = material
	s.mu.Unlock()

	s.logger.Info(ctx, "master key created", "key_id", key.ID)
	return key, nil
}

// Unlock attempts to unwrap every locked key with each of the given
// passphrases in turn and returns how many keys became usable. A passphrase
// that fits no key is not an error; keys it cannot open simply stay locked.
func (s *Store) Unlock(ctx context.Context, passphrases ...[]byte) (int, error) {
	list, err := s.keys.List(ctx)
	if err != nil {
		return 0, err
	}

	cipher, err := s.ciphers.Symmetric(cryptox.AlgorithmAES256GCM)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrCryptoUnavailable, err)
	}

	unlocked := 0
	for _, key := range list {
		s.mu.Lock()
		_, already := s.unlocked[key.ID]
		s.mu.Unlock()
		if already {
			continue
		}

		if key.Checksum != cryptox.Checksum(key.Content) {
			s.logger.Warn(ctx, "master key failed checksum, skipping", "key_id", key.ID)
			continue
		}

		if key.EncryptionMethod == models.EncryptionMethodNone {
			s.mu.Lock()
			s.unlocked[key.ID] = key.Content
			s.mu.Unlock()
			unlocked++
			continue
		}

		for _, pass := range passphrases {
			kek := cryptox.DeriveMasterKey(pass, key.Salt)
			material, err := cipher.Decrypt(key.Content, key.Nonce, kek)
			common.WipeByteArray(kek)
			if err != nil {
				continue
			}

			s.mu.Lock()
			s.unlocked[key.ID] = material
			s.mu.Unlock()
			unlocked++

			if !key.HasBeenUsed {
				if err := s.keys.MarkUsed(ctx, key.ID); err != nil {
					return unlocked, err
				}
			}
			break
		}
	}

	s.logger.Info(ctx, "unlock pass finished", "unlocked", unlocked, "total", len(list))
	return unlocked, nil
}

// Lock wipes all unwrapped material from memory.
func (s *Store) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, material := range s.unlocked {
		common.WipeByteArray(material)
		delete(s.unlocked, id)
	}
}

// ResolveKey implements codec.KeyResolver. It distinguishes a key this
// device never received (ErrKeyNotFound) from one that is present but still
// wrapped (ErrKeyLocked); the sync engine defers items in both cases.
func (s *Store) ResolveKey(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	material, ok := s.unlocked[id]
	s.mu.Unlock()
	if ok {
		return material, nil
	}

	if _, err := s.keys.GetByID(ctx, id); err != nil {
		if errors.Is(err, common.ErrKeyNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("looking up key %s: %w", id, err)
	}
	return nil, fmt.Errorf("key %s: %w", id, common.ErrKeyLocked)
}

// EnableEncryption turns encryption on for the profile, creating a first
// master key when none exists yet.
func (s *Store) EnableEncryption(ctx context.Context, passphrase []byte) error {
	list, err := s.keys.List(ctx)
	if err != nil {
		return err
	}

	var active *models.MasterKey
	if len(list) == 0 {
		active, err = s.CreateMasterKey(ctx, passphrase)
		if err != nil {
			return err
		}
	} else {
		active = list[len(list)-1]
	}

	if err := s.settings.Set(ctx, settings.KeyActiveMasterKey, active.ID); err != nil {
		return err
	}
	return s.settings.Set(ctx, settings.KeyEncryptionActive, "1")
}

// DisableEncryption turns encryption off for new items. Existing keys are
// retained so previously encrypted content stays readable.
func (s *Store) DisableEncryption(ctx context.Context) error {
	return s.settings.Set(ctx, settings.KeyEncryptionActive, "0")
}

// IsEncryptionEnabled reports whether new items should be encrypted.
func (s *Store) IsEncryptionEnabled(ctx context.Context) (bool, error) {
	v, err := s.settings.Get(ctx, settings.KeyEncryptionActive)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// RotateMasterKey creates a new key and makes it the active one. Old keys
// stay in place so existing ciphertext remains decryptable.
func (s *Store) RotateMasterKey(ctx context.Context, passphrase []byte) (*models.MasterKey, error) {
	key, err := s.CreateMasterKey(ctx, passphrase)
	if err != nil {
		return nil, err
	}
	if err := s.settings.Set(ctx, settings.KeyActiveMasterKey, key.ID); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "master key rotated", "key_id", key.ID)
	return key, nil
}

// List returns all known master keys, wrapped form only.
func (s *Store) List(ctx context.Context) ([]*models.MasterKey, error) {
	return s.keys.List(ctx)
}

// ActiveKey returns the encryption handle for new items, or an error when
// encryption is disabled, the active key is unknown, or it is still locked.
func (s *Store) ActiveKey(ctx context.Context) (*codec.ItemKey, error) {
	enabled, err := s.IsEncryptionEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, common.ErrEncryptionDisabled
	}

	id, err := s.settings.Get(ctx, settings.KeyActiveMasterKey)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("no active master key: %w", common.ErrKeyNotFound)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	material, ok := s.unlocked[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("active key %s: %w", id, common.ErrKeyLocked)
	}
	return &codec.ItemKey{ID: id, Material: material}, nil
}

// WrapForDevice encrypts a master key's material under another device's
// public key so it can be handed over out of band. Algorithms that are kept
// only for decrypting old transfers refuse to produce new ones.
func (s *Store) WrapForDevice(ctx context.Context, keyID string, publicPEM []byte, alg cryptox.AlgorithmID) (*models.WrappedKey, error) {
	cipher, err := s.ciphers.PublicKey(alg)
	if err != nil {
		return nil, err
	}
	if !cipher.WrapAllowed() {
		return nil, fmt.Errorf("algorithm %s: %w", alg, common.ErrWeakAlgorithm)
	}

	s.mu.Lock()
	material, ok := s.unlocked[keyID]
	s.mu.Unlock()
	if !ok {
		if _, err := s.keys.GetByID(ctx, keyID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("key %s: %w", keyID, common.ErrKeyLocked)
	}

	pub, err := cryptox.ParsePublicKeyPEM(publicPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing recipient key: %w", err)
	}

	wrapped, err := cipher.WrapKey(pub, material)
	if err != nil {
		return nil, fmt.Errorf("wrapping key %s: %w", keyID, err)
	}

	return &models.WrappedKey{
		AlgorithmID: int(alg),
		KeyID:       keyID,
		Wrapped:     wrapped,
		Checksum:    cryptox.Checksum(wrapped),
	}, nil
}

// UnwrapFromDevice accepts a key wrapped for this device, verifies it,
// re-wraps the material under the local passphrase and persists it.
func (s *Store) UnwrapFromDevice(ctx context.Context, wk *models.WrappedKey, privatePEM []byte, passphrase []byte) (*models.MasterKey, error) {
	if wk.Checksum != cryptox.Checksum(wk.Wrapped) {
		return nil, fmt.Errorf("wrapped key %s: %w", wk.KeyID, common.ErrChecksumMismatch)
	}

	cipher, err := s.ciphers.PublicKey(cryptox.AlgorithmID(wk.AlgorithmID))
	if err != nil {
		return nil, err
	}

	priv, err := cryptox.ParsePrivateKeyPEM(privatePEM)
	if err != nil {
		return nil, fmt.Errorf("parsing device key: %w", err)
	}

	material, err := cipher.UnwrapKey(priv, wk.Wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrapping key %s: %w", wk.KeyID, err)
	}

	sym, err := s.ciphers.Symmetric(cryptox.AlgorithmAES256GCM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCryptoUnavailable, err)
	}

	salt := common.GenerateRandByteArray(masterKeyBytes)
	kek := cryptox.DeriveMasterKey(passphrase, salt)
	defer common.WipeByteArray(kek)

	rewrapped, nonce, err := sym.Encrypt(material, kek)
	if err != nil {
		return nil, fmt.Errorf("rewrapping key %s: %w", wk.KeyID, err)
	}

	now := common.NowMilliseconds()
	key := &models.MasterKey{
		ID:               wk.KeyID,
		CreatedTime:      now,
		UpdatedTime:      now,
		EncryptionMethod: models.EncryptionMethodAES256GCM,
		Checksum:         cryptox.Checksum(rewrapped),
		Salt:             salt,
		Nonce:            nonce,
		Content:          rewrapped,
		HasBeenUsed:      true,
	}
	if err := s.keys.Upsert(ctx, key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.unlocked[key.ID] = material
	s.mu.Unlock()

	return key, nil
}

// ApplyRemote stores a master key that arrived through a sync pass as an
// item of type master_key. A newer local copy wins; an identical one is a
// no-op. The key arrives locked: it becomes usable only after an Unlock with
// the right passphrase.
func (s *Store) ApplyRemote(ctx context.Context, item *models.Item) error {
	if item.Type != models.ItemTypeMasterKey {
		return fmt.Errorf("item %s is %s, not a master key", item.ID, item.Type)
	}

	var remote models.MasterKey
	if err := item.ContentAs(&remote); err != nil {
		return fmt.Errorf("parsing master key %s: %w", item.ID, err)
	}
	if remote.Checksum != cryptox.Checksum(remote.Content) {
		return fmt.Errorf("master key %s: %w", remote.ID, common.ErrChecksumMismatch)
	}

	local, err := s.keys.GetByID(ctx, remote.ID)
	switch {
	case errors.Is(err, common.ErrKeyNotFound):
		// first sight of this key
	case err != nil:
		return err
	default:
		if local.UpdatedTime >= remote.UpdatedTime && bytes.Equal(local.Content, remote.Content) {
			return nil
		}
		if local.UpdatedTime > remote.UpdatedTime {
			return nil
		}
		remote.HasBeenUsed = remote.HasBeenUsed || local.HasBeenUsed
	}

	if err := s.keys.Upsert(ctx, &remote); err != nil {
		return err
	}

	// the wrapped bytes may have changed, any cached material is stale
	s.mu.Lock()
	delete(s.unlocked, remote.ID)
	s.mu.Unlock()

	s.logger.Info(ctx, "master key received from sync target", "key_id", remote.ID)
	return nil
}

// AsItem renders a master key as the synchronizable item that carries it to
// other devices. The content is the wrapped record; it is never additionally
// envelope-encrypted.
func AsItem(key *models.MasterKey) (*models.Item, error) {
	item := &models.Item{
		ID:          key.ID,
		Type:        models.ItemTypeMasterKey,
		CreatedTime: key.CreatedTime,
		UpdatedTime: key.UpdatedTime,
	}
	if err := item.SetContent(key); err != nil {
		return nil, err
	}
	return item, nil
}
