package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	minMemoryKiB   uint32 = 1024
	minTime        uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
)

var (
	ErrInvalidDigest = errors.New("invalid_password_digest")
	ErrEmptyPassword = errors.New("empty_password")
)

// PasswordParams are the argon2id cost parameters.
type PasswordParams struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultPasswordParams() PasswordParams {
	return PasswordParams{
		MemoryKiB:   64 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p PasswordParams) Validate() error {
	if p.MemoryKiB < minMemoryKiB {
		return fmt.Errorf("password memory must be >= %d KiB", minMemoryKiB)
	}
	if p.Time < minTime {
		return errors.New("password time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("password parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return fmt.Errorf("password salt length must be >= %d", minSaltLength)
	}
	if p.KeyLength < minKeyLength {
		return fmt.Errorf("password key length must be >= %d", minKeyLength)
	}
	return nil
}

// Argon2 hashes and verifies passwords. It holds only its immutable parameters and
// is safe for concurrent use.
type Argon2 struct {
	params PasswordParams
	rand   io.Reader
}

func NewArgon2(params PasswordParams) (*Argon2, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2{params: params, rand: rand.Reader}, nil
}

func (a *Argon2) Params() PasswordParams {
	return a.params
}

// Hash returns a PHC-formatted digest:
// $argon2id$v=19$m=<kib>,t=<time>,p=<parallelism>$<salt>$<hash>
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, a.params.SaltLength)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, a.params.Time, a.params.MemoryKiB, a.params.Parallelism, a.params.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.params.MemoryKiB,
		a.params.Time,
		a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches digest. A malformed digest never
// matches.
func (a *Argon2) Verify(password, digest string) bool {
	parsed, err := parseDigest(digest)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(computed, parsed.key) == 1
}

// NeedsRehash reports whether digest was produced with weaker parameters than the
// configured ones. Digests that cannot be parsed always need a rehash.
func (a *Argon2) NeedsRehash(digest string) bool {
	parsed, err := parseDigest(digest)
	if err != nil {
		return true
	}
	switch {
	case parsed.memory < a.params.MemoryKiB:
		return true
	case parsed.time < a.params.Time:
		return true
	case parsed.parallelism < a.params.Parallelism:
		return true
	case uint32(len(parsed.key)) != a.params.KeyLength:
		return true
	}
	return false
}

type digestParts struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parseDigest(digest string) (*digestParts, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrInvalidDigest
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, ErrInvalidDigest
	}

	out := &digestParts{}
	var seenM, seenT, seenP bool
	for _, pair := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, ErrInvalidDigest
		}
		switch key {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minMemoryKiB) {
				return nil, ErrInvalidDigest
			}
			out.memory, seenM = uint32(v), true
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || v < uint64(minTime) {
				return nil, ErrInvalidDigest
			}
			out.time, seenT = uint32(v), true
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, ErrInvalidDigest
			}
			out.parallelism, seenP = uint8(v), true
		default:
			return nil, ErrInvalidDigest
		}
	}
	if !seenM || !seenT || !seenP {
		return nil, ErrInvalidDigest
	}

	out.salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(out.salt) < int(minSaltLength) {
		return nil, ErrInvalidDigest
	}
	out.key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(out.key) < int(minKeyLength) {
		return nil, ErrInvalidDigest
	}
	return out, nil
}
