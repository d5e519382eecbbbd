package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the key-encryption key from the master
// secret. Each encrypted blob carries its own salt, so the derivation is
// repeated per blob rather than once per process.
const (
	kekMemory      = 19 * 1024 // KiB
	kekIterations  = 2
	kekParallelism = 1
	kekLength      = 32
	kekSaltLength  = 16
)

var (
	masterSecretOnce sync.Once
	masterSecret     []byte
	masterSecretPath string // Can be set via SetMasterSecretPath before first use
)

// SetMasterSecretPath configures where to load the master secret from.
// This must be called before any encryption/decryption operations.
// If not set, the secret will be loaded from the GATEPASS_MASTER_KEY
// environment variable.
func SetMasterSecretPath(path string) {
	masterSecretPath = path
}

// loadMasterSecret loads the raw master secret from either:
// 1. File specified by masterSecretPath (if set)
// 2. GATEPASS_MASTER_KEY environment variable
// 3. Generates a temporary secret for development (NOT for production)
func loadMasterSecret() ([]byte, error) {
	if masterSecretPath != "" {
		data, err := os.ReadFile(masterSecretPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read master secret file: %w", err)
		}
		return data, nil
	}

	if envKey := os.Getenv("GATEPASS_MASTER_KEY"); envKey != "" {
		return []byte(envKey), nil
	}

	// Development fallback - generate ephemeral secret
	// WARNING: Encrypted keys won't survive restart with an ephemeral secret
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral master secret: %w", err)
	}
	return secret, nil
}

// getMasterSecret returns the loaded master secret, loading it on first use.
func getMasterSecret() ([]byte, error) {
	var err error
	masterSecretOnce.Do(func() {
		masterSecret, err = loadMasterSecret()
	})
	if err != nil {
		return nil, err
	}
	if masterSecret == nil {
		return nil, fmt.Errorf("master secret failed to load on first use")
	}
	return masterSecret, nil
}

// deriveKEK stretches the master secret into a 32-byte AES-256 key using
// Argon2id with the supplied salt.
func deriveKEK(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, kekIterations, kekMemory, kekParallelism, kekLength)
}

// EncryptPrivateKey encrypts a PEM-encoded private key using AES-256-GCM with
// a key derived from the master secret via Argon2id.
// The output format is: [16-byte salt][12-byte nonce][encrypted data][16-byte auth tag]
// A fresh salt and nonce are generated per encryption.
func EncryptPrivateKey(pemData []byte) ([]byte, error) {
	secret, err := getMasterSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to get master secret: %w", err)
	}

	salt := make([]byte, kekSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKEK(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// Create GCM mode (provides authentication)
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// gcm.Seal appends the ciphertext and auth tag after the prefix
	prefix := append(salt, nonce...)
	ciphertext := gcm.Seal(prefix, nonce, pemData, nil)

	return ciphertext, nil
}

// DecryptPrivateKey decrypts data encrypted with EncryptPrivateKey.
// Expects format: [16-byte salt][12-byte nonce][encrypted data][16-byte auth tag]
func DecryptPrivateKey(encryptedData []byte) ([]byte, error) {
	secret, err := getMasterSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to get master secret: %w", err)
	}

	if len(encryptedData) < kekSaltLength {
		return nil, fmt.Errorf("ciphertext too short")
	}
	salt, rest := encryptedData[:kekSaltLength], encryptedData[kekSaltLength:]

	block, err := aes.NewCipher(deriveKEK(secret, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	// Decrypt and verify authentication tag
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// ResetMasterSecretForTesting resets the master secret singleton for testing
// purposes. This should ONLY be used in tests.
func ResetMasterSecretForTesting() {
	masterSecretOnce = sync.Once{}
	masterSecret = nil
}
