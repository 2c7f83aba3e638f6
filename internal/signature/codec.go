// Package signature implements the gateway's keyed digest: the canonical
// colon-joined field string with the shared secret appended, hashed with MD5
// and rendered as lowercase hex. MD5 is what the gateway protocol requires.
package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// Delimiter joins canonical fields.
const Delimiter = ":"

// ErrEmptyInput is returned for an empty field list, an empty field, an empty
// secret or an empty candidate digest.
var ErrEmptyInput = errors.New("signature: empty input")

// Variant is one canonical field ordering accepted for a verification.
type Variant struct {
	Name   string
	Fields []string
}

// Sign returns the lowercase hex digest of fields joined with the secret.
func Sign(fields []string, secret string) (string, error) {
	if err := checkInput(fields, secret); err != nil {
		return "", err
	}
	return digest(fields, secret), nil
}

// Verify recomputes the digest over fields and compares it with candidate, ignoring case.
func Verify(fields []string, secret, candidate string) (bool, error) {
	if err := checkInput(fields, secret); err != nil {
		return false, err
	}
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if candidate == "" {
		return false, ErrEmptyInput
	}
	return equal(digest(fields, secret), candidate), nil
}

// VerifyAny tries each variant in order and returns the first one whose digest
// matches candidate. Every variant must be well formed.
func VerifyAny(variants []Variant, secret, candidate string) (Variant, bool, error) {
	if len(variants) == 0 {
		return Variant{}, false, ErrEmptyInput
	}
	for _, v := range variants {
		ok, err := Verify(v.Fields, secret, candidate)
		if err != nil {
			return Variant{}, false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return Variant{}, false, nil
}

func digest(fields []string, secret string) string {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, fields...)
	parts = append(parts, secret)
	sum := md5.Sum([]byte(strings.Join(parts, Delimiter)))
	return hex.EncodeToString(sum[:])
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func checkInput(fields []string, secret string) error {
	if len(fields) == 0 || secret == "" {
		return ErrEmptyInput
	}
	for _, f := range fields {
		if f == "" {
			return ErrEmptyInput
		}
	}
	return nil
}
