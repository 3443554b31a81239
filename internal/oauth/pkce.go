package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// pkceVerifierBytes is the number of random bytes for the PKCE code
// verifier. 32 bytes provides 256 bits of entropy, which is recommended
// for security.
const pkceVerifierBytes = 32

// GeneratePKCE generates a PKCE code verifier and challenge per RFC 7636.
// The verifier is 32 random bytes, base64url-encoded without padding.
// The challenge is the S256 (SHA256) hash of the verifier, encoded the
// same way.
func GeneratePKCE() (verifier, challenge string, err error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}

	verifier = base64.RawURLEncoding.EncodeToString(verifierBytes)

	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])

	return verifier, challenge, nil
}
