package token

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
)

// Alphabet is exactly 64 symbols, so masking a random byte to 6 bits
// picks each symbol with equal probability.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

var ErrBadLength = errors.New("secret length must be positive")

// Pair is the two process-lifetime secrets: one for content, one for admin endpoints.
type Pair struct {
	Access string
	Admin  string
}

// Generate returns a random opaque secret of the given length.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", ErrBadLength
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[b&63]
	}
	return string(buf), nil
}

// NewPair mints both secrets.
func NewPair(accessLen, adminLen int) (Pair, error) {
	access, err := Generate(accessLen)
	if err != nil {
		return Pair{}, fmt.Errorf("access token: %w", err)
	}
	admin, err := Generate(adminLen)
	if err != nil {
		return Pair{}, fmt.Errorf("admin token: %w", err)
	}
	return Pair{Access: access, Admin: admin}, nil
}

// Equal compares a presented value against a secret in constant time.
// An empty presented value never matches.
func Equal(presented, secret string) bool {
	if presented == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// Persister receives the secrets once at startup.
type Persister interface {
	Persist(p Pair) error
}

// FileStore writes the secrets to a file readable only by the owner.
type FileStore struct {
	Path string
}

func (f FileStore) Persist(p Pair) error {
	if f.Path == "" {
		return errors.New("token file path is empty")
	}
	body := fmt.Sprintf("access token: %s\nadmin token: %s\n", p.Access, p.Admin)
	if err := os.WriteFile(f.Path, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}
