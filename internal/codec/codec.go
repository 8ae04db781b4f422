// Package codec converts items between their plaintext form and the
// versioned encrypted envelope stored on a remote target.
package codec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/cryptox"
	"github.com/personalizedrefrigerator/notesync/internal/models"
)

// EnvelopeVersion is the current wire format version. Decoding an envelope
// with an unrecognized version fails with ErrUnsupportedEnvelopeVersion
// rather than attempting a best-effort parse.
const EnvelopeVersion = 1

// Envelope is the header+ciphertext structure wrapping encrypted item
// content.
type Envelope struct {
	Version    int                 `json:"version"`
	Algorithm  cryptox.AlgorithmID `json:"algorithm_id"`
	KeyID      string              `json:"master_key_id"`
	Nonce      []byte              `json:"nonce"`
	Ciphertext []byte              `json:"ciphertext"`
}

// itemBlob is the full wire form of one item. Change metadata stays
// plaintext so the sync engine can reason about ordering and conflicts
// without holding any keys; content is opaque once encrypted.
type itemBlob struct {
	ID                string          `json:"id"`
	Type              models.ItemType `json:"type"`
	CreatedTime       int64           `json:"created_time"`
	UpdatedTime       int64           `json:"updated_time"`
	EncryptionApplied bool            `json:"encryption_applied"`
	Content           json.RawMessage `json:"content,omitempty"`
	Envelope          *Envelope       `json:"envelope,omitempty"`
}

// ItemKey is a resolved master key handle: the id tagged on produced
// envelopes plus the unwrapped material.
type ItemKey struct {
	ID       string
	Material []byte
}

// KeyResolver looks up unwrapped master-key material by id. Implementations
// return common.ErrKeyNotFound when the key was never received and
// common.ErrKeyLocked when it is present but not yet unwrapped; both are
// retryable conditions, not fatal ones.
type KeyResolver interface {
	ResolveKey(ctx context.Context, id string) ([]byte, error)
}

// Codec encodes and decodes item blobs using the ciphers of a registry.
type Codec struct {
	ciphers *cryptox.Registry
}

func New(ciphers *cryptox.Registry) *Codec {
	return &Codec{ciphers: ciphers}
}

// Encode serializes item to its wire form. With a non-nil key the content is
// encrypted into an envelope tagged with the key id; with a nil key the item
// passes through plaintext with encryption_applied unset (legacy profiles,
// and master_key items which are already passphrase-wrapped).
func (c *Codec) Encode(item *models.Item, key *ItemKey) ([]byte, error) {
	blob := itemBlob{
		ID:          item.ID,
		Type:        item.Type,
		CreatedTime: item.CreatedTime,
		UpdatedTime: item.UpdatedTime,
	}

	if key == nil {
		blob.Content = item.Content
		return json.Marshal(blob)
	}

	cipher, err := c.ciphers.Symmetric(cryptox.AlgorithmAES256GCM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCryptoUnavailable, err)
	}

	ciphertext, nonce, err := cipher.Encrypt(item.Content, key.Material)
	if err != nil {
		return nil, fmt.Errorf("encrypting item %s: %w", item.ID, err)
	}

	blob.EncryptionApplied = true
	blob.Envelope = &Envelope{
		Version:    EnvelopeVersion,
		Algorithm:  cipher.ID(),
		KeyID:      key.ID,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	return json.Marshal(blob)
}

// Decode parses a wire blob back into an item, resolving the master key the
// envelope names. ErrKeyNotFound/ErrKeyLocked from the resolver propagate so
// callers can defer the item instead of failing the pass.
func (c *Codec) Decode(ctx context.Context, data []byte, resolver KeyResolver) (*models.Item, error) {
	var blob itemBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("parsing item blob: %w", err)
	}

	item := &models.Item{
		ID:                blob.ID,
		Type:              blob.Type,
		CreatedTime:       blob.CreatedTime,
		UpdatedTime:       blob.UpdatedTime,
		EncryptionApplied: blob.EncryptionApplied,
	}

	if blob.Envelope == nil {
		item.Content = blob.Content
		return item, nil
	}

	env := blob.Envelope
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("envelope version %d: %w", env.Version, common.ErrUnsupportedEnvelopeVersion)
	}

	cipher, err := c.ciphers.Symmetric(env.Algorithm)
	if err != nil {
		return nil, err
	}

	material, err := resolver.ResolveKey(ctx, env.KeyID)
	if err != nil {
		return nil, fmt.Errorf("item %s needs key %s: %w", blob.ID, env.KeyID, err)
	}

	plaintext, err := cipher.Decrypt(env.Ciphertext, env.Nonce, material)
	if err != nil {
		return nil, fmt.Errorf("decrypting item %s: %w", blob.ID, err)
	}

	item.Content = plaintext
	return item, nil
}

// PeekMetadata parses only the plaintext metadata of a wire blob, without
// touching keys. Used for conflict reasoning on items that cannot be
// decrypted yet.
func PeekMetadata(data []byte) (*models.Item, error) {
	var blob itemBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("parsing item blob: %w", err)
	}
	return &models.Item{
		ID:                blob.ID,
		Type:              blob.Type,
		CreatedTime:       blob.CreatedTime,
		UpdatedTime:       blob.UpdatedTime,
		EncryptionApplied: blob.EncryptionApplied,
	}, nil
}
