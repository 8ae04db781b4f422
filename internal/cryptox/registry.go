package cryptox

import (
	"fmt"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

// Registry holds the providers available on this runtime. A provider slot may
// be registered as nil, meaning the algorithm is known but unsupported on
// this platform; using it fails with common.ErrAlgorithmUnavailable instead
// of silently falling back to a weaker scheme.
type Registry struct {
	symmetric map[AlgorithmID]SymmetricCipher
	publicKey map[AlgorithmID]PublicKeyCipher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symmetric: make(map[AlgorithmID]SymmetricCipher),
		publicKey: make(map[AlgorithmID]PublicKeyCipher),
	}
}

// DefaultRegistry returns a registry with every provider this build ships:
// AES-256-GCM and the three RSA wrap variants.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterSymmetric(AESGCM{})
	r.RegisterPublicKey(AlgorithmRSAV1, RSAV1{})
	r.RegisterPublicKey(AlgorithmRSAV2, RSAV2{})
	r.RegisterPublicKey(AlgorithmRSAV3, RSAV3{})
	return r
}

func (r *Registry) RegisterSymmetric(c SymmetricCipher) {
	r.symmetric[c.ID()] = c
}

// RegisterPublicKey registers a wrap provider under id. A nil cipher marks
// the slot as unavailable on this platform.
func (r *Registry) RegisterPublicKey(id AlgorithmID, c PublicKeyCipher) {
	r.publicKey[id] = c
}

// HasSymmetric reports whether any symmetric cipher is registered at all.
func (r *Registry) HasSymmetric() bool {
	return len(r.symmetric) > 0
}

// Symmetric resolves a symmetric cipher by id.
func (r *Registry) Symmetric(id AlgorithmID) (SymmetricCipher, error) {
	c, ok := r.symmetric[id]
	if !ok {
		return nil, fmt.Errorf("symmetric %s: %w", id, common.ErrUnknownAlgorithm)
	}
	if c == nil {
		return nil, fmt.Errorf("symmetric %s: %w", id, common.ErrAlgorithmUnavailable)
	}
	return c, nil
}

// PublicKey resolves a wrap provider by id.
func (r *Registry) PublicKey(id AlgorithmID) (PublicKeyCipher, error) {
	c, ok := r.publicKey[id]
	if !ok {
		return nil, fmt.Errorf("public key %s: %w", id, common.ErrUnknownAlgorithm)
	}
	if c == nil {
		return nil, fmt.Errorf("public key %s: %w", id, common.ErrAlgorithmUnavailable)
	}
	return c, nil
}
