package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	dErrors "custodia/pkg/domain-errors"
)

// DigestSize is the byte length of a chain digest (SHA-256).
const DigestSize = 32

// Digest is a SHA-256 value used for chain links, transfer payloads, and
// batch content fingerprints. The zero value is the explicit "absent"
// sentinel and is rejected wherever a digest is required.
type Digest [DigestSize]byte

// ZeroDigest is the absent-digest sentinel.
var ZeroDigest Digest

func (d Digest) IsZero() bool { return d == ZeroDigest }

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// MarshalJSON encodes the digest in its hex form. The zero sentinel
// serializes as the empty string.
func (d Digest) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return dErrors.New(dErrors.CodeValidation, "digest must be a hex string")
	}
	if s == "" {
		*d = ZeroDigest
		return nil
	}
	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a digest from its 64-character hex form.
// The zero digest is rejected: callers that mean "no digest" must not
// supply one at all.
func ParseDigest(s string) (Digest, error) {
	if s == "" {
		return Digest{}, dErrors.New(dErrors.CodeValidation, "digest is required")
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != DigestSize {
		return Digest{}, dErrors.New(dErrors.CodeValidation, "digest must be 64 hex characters")
	}
	var d Digest
	copy(d[:], raw)
	if d.IsZero() {
		return Digest{}, dErrors.New(dErrors.CodeValidation, "digest must not be the zero sentinel")
	}
	return d, nil
}

// DigestOf hashes arbitrary content into a Digest. Used by callers that
// derive digests from payloads rather than receiving them over the wire.
func DigestOf(content []byte) Digest {
	return Digest(sha256.Sum256(content))
}
