package htlc

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/thunder-swap/engine/cryptoutil"
	"github.com/thunder-swap/engine/swaperr"
)

// internalKeySeed is the ASCII nothing-up-my-sleeve seed for the
// HTLC's unspendable internal key: no key-path private key exists
// for it, so the HTLC can only be spent via one of its two tapscript
// leaves.
const internalKeySeed = "HODL_INVOICE_P2TR_HTLC_INTERNAL_KEY_v0"

// maxInternalKeyAttempts bounds the candidate search; the first SHA-256
// digest of the seed is already a valid x-only point in practice, but
// the search tolerates the rare miss.
const maxInternalKeyAttempts = 256

var (
	internalKeyOnce   sync.Once
	internalKeyCached [32]byte
	internalKeyErr    error
)

// DeriveInternalKey returns the deterministic, provably-unspendable
// x-only internal key shared by every HTLC this engine builds. The
// search result is cached after the first call.
func DeriveInternalKey() ([32]byte, error) {
	internalKeyOnce.Do(func() {
		internalKeyCached, internalKeyErr = searchInternalKey()
	})
	return internalKeyCached, internalKeyErr
}

func searchInternalKey() ([32]byte, error) {
	for attempt := uint32(0); attempt < maxInternalKeyAttempts; attempt++ {
		data := []byte(internalKeySeed)
		if attempt > 0 {
			suffix := make([]byte, 4)
			binary.BigEndian.PutUint32(suffix, attempt)
			data = append(data, suffix...)
		}
		candidate := sha256.Sum256(data)
		if cryptoutil.IsValidXOnlyPoint(candidate[:]) {
			return candidate, nil
		}
	}
	var zero [32]byte
	return zero, swaperr.New(swaperr.InternalError, "no valid internal key candidate found in seed search")
}
