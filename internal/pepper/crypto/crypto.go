// Package crypto implements PEPPER's key generation and Private Encounter
// Token derivation (C1): X25519 key pairs, ECDH shared secrets, and the
// SHA-256-based PET mirroring scheme.
package crypto

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Keys is an X25519 key pair used as the local EBID contribution.
type Keys struct {
	Public [32]byte
	Secret [32]byte
}

// prefix bytes distinguishing the two sides of a mirrored PET pair.
const (
	prefixET byte = 0x01
	prefixRT byte = 0x02
)

// GenerateKeys produces a fresh, clamped X25519 key pair.
func GenerateKeys(rand io.Reader) (Keys, error) {
	pk, sk, err := box.GenerateKey(rand)
	if err != nil {
		return Keys{}, fmt.Errorf("crypto: generate keys: %w", err)
	}
	return Keys{Public: *pk, Secret: *sk}, nil
}

// SharedSecret computes the raw X25519 ECDH shared secret between a local
// secret key and a peer's public key.
func SharedSecret(sk, peerPK [32]byte) ([32]byte, error) {
	var out [32]byte
	secret, err := curve25519.X25519(sk[:], peerPK[:])
	if err != nil {
		return out, fmt.Errorf("crypto: shared secret: %w", err)
	}
	copy(out[:], secret)
	return out, nil
}

// GenPET derives a Private Encounter Token as SHA256(prefix || shared_secret).
func GenPET(keys Keys, peerPK [32]byte, prefix byte) ([32]byte, error) {
	secret, err := SharedSecret(keys.Secret, peerPK)
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	h.Write([]byte{prefix})
	h.Write(secret[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// GenPETPair derives the mirrored (et, rt) token pair for an encounter
// between the local key pair and a peer's EBID public key. Ordering is
// decided by a byte-wise lexicographic comparison of keys.Public and
// peerEBID: the lexicographically smaller side's ET uses prefix 0x01 (and
// its RT prefix 0x02); the larger side's ET uses prefix 0x02 (and its RT
// prefix 0x01). Since both sides compute the same pair of prefixed hashes
// from the same shared secret, this guarantees Alice's ET equals Bob's RT
// and vice versa. Comparison is byte-wise from index 0; equality must not
// occur in practice, since a peer never derives a PET against its own key.
func GenPETPair(keys Keys, peerEBID [32]byte) (et, rt [32]byte, err error) {
	if keys.Public == peerEBID {
		panic("crypto: GenPETPair called with peer EBID equal to local public key")
	}

	tokenOne, err := GenPET(keys, peerEBID, prefixET)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	tokenTwo, err := GenPET(keys, peerEBID, prefixRT)
	if err != nil {
		return [32]byte{}, [32]byte{}, err
	}

	if bytes.Compare(keys.Public[:], peerEBID[:]) < 0 {
		return tokenOne, tokenTwo, nil
	}
	return tokenTwo, tokenOne, nil
}
