package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Hasher hashes credentials with argon2id. Cost parameters are injected at
// construction, never read from ambient state.
type Hasher struct {
	memoryKiB uint32
	time      uint32
	threads   uint8
}

const (
	saltLength = 16
	keyLength  = 32
)

func NewHasher(memoryKiB, timeCost uint32, threads uint8) *Hasher {
	if memoryKiB == 0 {
		memoryKiB = 19456
	}
	if timeCost == 0 {
		timeCost = 2
	}
	if threads == 0 {
		threads = 1
	}
	return &Hasher{memoryKiB: memoryKiB, time: timeCost, threads: threads}
}

// Hash returns an encoded argon2id hash in the standard
// $argon2id$v=19$m=...,t=...,p=...$salt$key form.
func (h *Hasher) Hash(secret string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.time, h.memoryKiB, h.threads, keyLength)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memoryKiB, h.time, h.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify reports whether secret matches the encoded hash. The cost parameters
// embedded in the hash are honored, so old hashes survive parameter changes.
func (h *Hasher) Verify(encoded, secret string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("malformed password hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, errors.New("malformed password hash")
	}
	if version != argon2.Version {
		return false, errors.New("unsupported argon2 version")
	}

	var memoryKiB, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memoryKiB, &timeCost, &threads); err != nil {
		return false, errors.New("malformed password hash")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.New("malformed password hash")
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.New("malformed password hash")
	}

	key := argon2.IDKey([]byte(secret), salt, timeCost, memoryKiB, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}
