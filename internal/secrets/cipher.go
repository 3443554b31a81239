package secrets

import (
	"fmt"
	"os"

	"github.com/fernet/fernet-go"

	"qwenauth/pkg/logging"
)

// EncryptionKeyEnv is the environment variable holding the Fernet key
// (44-character urlsafe base64 string).
const EncryptionKeyEnv = "TOKEN_ENCRYPTION_KEY"

// Cipher encrypts and decrypts persisted token material with Fernet
// symmetric encryption (AES-128-CBC with HMAC signing).
type Cipher struct {
	key *fernet.Key
}

// New creates a Cipher from the given key. An empty key falls back to
// the TOKEN_ENCRYPTION_KEY environment variable; if that is also unset,
// an ephemeral key is generated and a warning logged. Tokens encrypted
// with an ephemeral key cannot be read after a restart, so production
// deployments must set the variable.
func New(key string) (*Cipher, error) {
	if key == "" {
		key = os.Getenv(EncryptionKeyEnv)
	}

	if key == "" {
		logging.Warn("Secrets", "%s is not set, generating an ephemeral encryption key; "+
			"persisted tokens will be unreadable after restart", EncryptionKeyEnv)
		k := &fernet.Key{}
		if err := k.Generate(); err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		return &Cipher{key: k}, nil
	}

	k, err := fernet.DecodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key format: %w", err)
	}
	return &Cipher{key: k}, nil
}

// Encrypt encrypts a plaintext secret, returning the Fernet token as a
// base64 string suitable for column storage.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}
	return string(tok), nil
}

// Decrypt decrypts a Fernet token produced by Encrypt. Tampered or
// foreign-key ciphertexts fail.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{c.key})
	if msg == nil {
		return "", fmt.Errorf("failed to decrypt secret: ciphertext invalid or tampered")
	}
	return string(msg), nil
}

// GenerateKey returns a fresh Fernet key for operators to put into
// TOKEN_ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	k := &fernet.Key{}
	if err := k.Generate(); err != nil {
		return "", err
	}
	return k.Encode(), nil
}
