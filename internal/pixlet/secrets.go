package pixlet

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/tink/go/aead"
	"github.com/google/tink/go/insecurecleartextkeyset"
	"github.com/google/tink/go/keyset"
	"tidbyt.dev/pixlet/runtime"
)

// LoadSecretKey builds the key apps use to decrypt their embedded secrets. keysetB64 is the
// encrypted Tink keyset JSON and kekB64 the cleartext key-encryption keyset JSON, both base64.
// It returns nil when neither is set.
func LoadSecretKey(keysetB64, kekB64 string) (*runtime.SecretDecryptionKey, error) {
	keysetB64 = strings.TrimSpace(keysetB64)
	kekB64 = strings.TrimSpace(kekB64)
	if keysetB64 == "" && kekB64 == "" {
		return nil, nil
	}
	if keysetB64 == "" || kekB64 == "" {
		return nil, fmt.Errorf("both the secret keyset and the key encryption key are required")
	}

	encryptedKeyset, err := base64.StdEncoding.DecodeString(keysetB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret keyset: %w", err)
	}
	kekJSON, err := base64.StdEncoding.DecodeString(kekB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key encryption key: %w", err)
	}

	kekHandle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(bytes.NewReader(kekJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to read key encryption key: %w", err)
	}
	kek, err := aead.New(kekHandle)
	if err != nil {
		return nil, fmt.Errorf("failed to create key encryption AEAD: %w", err)
	}

	// Fail at startup rather than on the first secret an app decrypts.
	if _, err := keyset.Read(keyset.NewJSONReader(bytes.NewReader(encryptedKeyset)), kek); err != nil {
		return nil, fmt.Errorf("failed to decrypt secret keyset: %w", err)
	}

	return &runtime.SecretDecryptionKey{
		EncryptedKeysetJSON: encryptedKeyset,
		KeyEncryptionKey:    kek,
	}, nil
}
