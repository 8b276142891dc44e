package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"math/bits"
	"time"
)

// AccountID is the opaque caller identity supplied by the host.
type AccountID string

// Amount is a non-negative money value in the smallest currency unit.
type Amount uint64

// MulSat multiplies by qty, saturating at the max Amount instead of wrapping.
func (a Amount) MulSat(qty uint64) Amount {
	hi, lo := bits.Mul64(uint64(a), qty)
	if hi != 0 {
		return Amount(math.MaxUint64)
	}
	return Amount(lo)
}

// AddSat adds b, saturating at the max Amount.
func (a Amount) AddSat(b Amount) Amount {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return Amount(math.MaxUint64)
	}
	return Amount(sum)
}

// Hash is a fixed-width content-derived identifier.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes the 64 hex character form of a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(len(h)) {
		return h, fmt.Errorf("hash %q: want %d hex characters", s, hex.EncodedLen(len(h)))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("hash %q: %w", s, err)
	}
	return h, nil
}

// DeriveID hashes the given parts into a Hash. Every part is length prefixed
// so ("ab","c") and ("a","bc") never collide.
func DeriveID(parts ...any) Hash {
	d := sha256.New()
	write := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		d.Write(n[:])
		d.Write(b)
	}
	var buf [8]byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			write([]byte(v))
		case AccountID:
			write([]byte(v))
		case Hash:
			write(v[:])
		case time.Time:
			binary.BigEndian.PutUint64(buf[:], uint64(v.UnixNano()))
			write(buf[:])
		case uint64:
			binary.BigEndian.PutUint64(buf[:], v)
			write(buf[:])
		case int:
			binary.BigEndian.PutUint64(buf[:], uint64(v))
			write(buf[:])
		default:
			write([]byte(fmt.Sprint(v)))
		}
	}
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}
