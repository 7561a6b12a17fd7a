// Package htlc builds and verifies the Taproot HTLC this engine uses
// to tie an on-chain deposit to an off-chain HODL invoice: two
// tapscript leaves (hash-preimage claim, absolute-timelock refund)
// under a deterministic, provably-unspendable internal key.
package htlc

import (
	"encoding/hex"

	"github.com/thunder-swap/engine/cryptoutil"
	"github.com/thunder-swap/engine/swaperr"
)

// Template is the minimal data needed to reconstruct an HTLC's
// scriptPubKey byte-for-byte: both parties' pubkeys, the payment
// hash, and the refund timelock.
type Template struct {
	PaymentHash           [32]byte
	LPPubkeyCompressed    [33]byte
	UserPubkeyCompressed  [33]byte
	TLock                 uint32
}

// Validate checks both pubkeys are valid compressed secp256k1 points.
// The payment hash is not checked: as a [32]byte it always has the
// required length.
func (t *Template) Validate() error {
	if _, err := cryptoutil.ValidateCompressedPubkeyHex(hex.EncodeToString(t.LPPubkeyCompressed[:])); err != nil {
		return swaperr.Wrap(swaperr.InvalidInput, "lp pubkey invalid", err)
	}
	if _, err := cryptoutil.ValidateCompressedPubkeyHex(hex.EncodeToString(t.UserPubkeyCompressed[:])); err != nil {
		return swaperr.Wrap(swaperr.InvalidInput, "user pubkey invalid", err)
	}
	return nil
}

// LeafPair bundles the two raw tapscript leaf scripts this HTLC uses.
type LeafPair struct {
	ClaimScript  []byte
	RefundScript []byte
}
