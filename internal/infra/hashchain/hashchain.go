// Package hashchain computes and verifies the per-user transaction hash
// chain. Each transaction's hash covers its canonical fields plus the
// previous transaction's hash, so any retroactive edit invalidates every
// later hash. Pure functions — no storage dependency.
package hashchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/credd-network/credd/internal/domain"
)

// ComputeHash returns the hex SHA-256 digest of the transaction's canonical
// fields concatenated with prevHash.
func ComputeHash(tx *domain.CreditTransaction, prevHash string) string {
	h := sha256.Sum256([]byte(tx.Canonical() + "|" + prevHash))
	return hex.EncodeToString(h[:])
}

// VerifyChain walks transactions in ascending version order, recomputing
// each hash from canonical fields and the previous COMPUTED (not stored)
// hash. It returns ok=true when every stored hash and link matches, or
// ok=false with the index of the first bad transaction.
//
// Recomputing instead of trusting stored hashes is what makes tampering
// detectable: an attacker who edits a row and its stored hash still breaks
// the link recomputed from the neighbours.
func VerifyChain(txs []domain.CreditTransaction) (ok bool, firstBadIndex int) {
	prev := domain.GenesisHash
	for i := range txs {
		tx := &txs[i]
		if tx.Version != int64(i)+1 {
			return false, i // gap or reorder in the version sequence
		}
		if tx.PreviousTransactionHash != prev {
			return false, i
		}
		computed := ComputeHash(tx, prev)
		if computed != tx.TransactionHash {
			return false, i
		}
		prev = computed
	}
	return true, -1
}

// ─── Signatures ─────────────────────────────────────────────────────────────

// Signer produces Ed25519 authenticity proofs over transaction hashes.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner builds a signer from a 32-byte seed (hex encoded).
func NewSigner(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// GenerateSigner creates a signer with a fresh random key. Used when no seed
// is configured (development mode) — signatures then verify only within the
// process lifetime.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// Sign returns the hex signature over the transaction hash.
func (s *Signer) Sign(txHash string) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, []byte(txHash)))
}

// Verify checks a hex signature over a transaction hash.
func (s *Signer) Verify(txHash, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.pub, []byte(txHash), sig)
}

// PublicKeyHex returns the verifying key for audit tooling.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}
