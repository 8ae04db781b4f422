package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/cryptox"
	"github.com/personalizedrefrigerator/notesync/internal/filex"
	"github.com/personalizedrefrigerator/notesync/internal/models"
)

// DeviceKeyPairFile is the name of the keypair file inside the profile
// directory. The private half never leaves the device; only PublicPEM is
// handed to other devices for key exchange.
const DeviceKeyPairFile = "device_keypair.json"

// LoadOrCreateDeviceKeyPair returns the keypair stored in the profile
// directory, generating and persisting a fresh one on first use.
func LoadOrCreateDeviceKeyPair(dir string) (*models.KeyPair, error) {
	if err := filex.EnsureDir(dir); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, DeviceKeyPairFile)

	data, err := os.ReadFile(path)
	if err == nil {
		var kp models.KeyPair
		if err := json.Unmarshal(data, &kp); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if _, err := cryptox.ParsePrivateKeyPEM(kp.PrivatePEM); err != nil {
			return nil, fmt.Errorf("device keypair %s: %w", path, err)
		}
		return &kp, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	priv, err := cryptox.GenerateDeviceKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating device keypair: %w", err)
	}
	privPEM, err := cryptox.MarshalPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	pubPEM, err := cryptox.MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	kp := &models.KeyPair{
		DeviceID:    uuid.NewString(),
		AlgorithmID: int(cryptox.AlgorithmRSAV3),
		PrivatePEM:  privPEM,
		PublicPEM:   pubPEM,
		CreatedTime: common.NowMilliseconds(),
	}
	data, err = json.Marshal(kp)
	if err != nil {
		return nil, err
	}
	if err := filex.WriteFileAtomic(path, data); err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return kp, nil
}
