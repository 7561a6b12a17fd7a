// Package cryptoutil holds the low-level primitives every other
// package in the swap engine builds on: hashing, hex/byte shape
// checks, and secp256k1 point validation. No I/O happens here.
package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/thunder-swap/engine/swaperr"
)

// Sha256 returns the SHA-256 digest of data.
func Sha256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ValidateCompressedPubkeyHex checks that s is a 66-character hex
// string with a 0x02/0x03 prefix that decodes to a valid secp256k1
// point, returning the raw 33 bytes.
func ValidateCompressedPubkeyHex(s string) ([]byte, error) {
	if len(s) != 66 {
		return nil, swaperr.Newf(swaperr.InvalidInput, "compressed pubkey hex must be 66 chars, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InvalidInput, "compressed pubkey is not valid hex", err)
	}
	if raw[0] != 0x02 && raw[0] != 0x03 {
		return nil, swaperr.Newf(swaperr.InvalidInput, "compressed pubkey prefix must be 0x02 or 0x03, got 0x%02x", raw[0])
	}
	if _, err := btcec.ParsePubKey(raw); err != nil {
		return nil, swaperr.Wrap(swaperr.InvalidInput, "compressed pubkey is not a valid secp256k1 point", err)
	}
	return raw, nil
}

// CompressedToXOnly drops the parity prefix byte from a 33-byte
// compressed pubkey and asserts the resulting 32 bytes are a valid
// x-only curve point.
func CompressedToXOnly(compressed []byte) ([32]byte, error) {
	var xOnly [32]byte
	if len(compressed) != 33 {
		return xOnly, swaperr.Newf(swaperr.InvalidInput, "compressed pubkey must be 33 bytes, got %d", len(compressed))
	}
	copy(xOnly[:], compressed[1:])
	if _, err := schnorr.ParsePubKey(xOnly[:]); err != nil {
		return xOnly, swaperr.Wrap(swaperr.InvalidInput, "x-only conversion is not a valid curve point", err)
	}
	return xOnly, nil
}

// IsValidXOnlyPoint reports whether b is a valid 32-byte x-only
// secp256k1 point, without returning an error for the invalid case —
// callers that probe candidates (the internal-key search) want a bool.
func IsValidXOnlyPoint(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := schnorr.ParsePubKey(b)
	return err == nil
}

// SchnorrCapable is satisfied by any signer that can produce BIP-340
// Schnorr signatures. Components that need to sign a tapscript input
// (the claim spender) check this before doing any other work.
type SchnorrCapable interface {
	SupportsSchnorr() bool
}

// RequireSchnorrCapable fails fast with InvalidInput if signer cannot
// produce Schnorr signatures, instead of discovering it mid-PSBT-build.
func RequireSchnorrCapable(signer SchnorrCapable) error {
	if !signer.SupportsSchnorr() {
		return swaperr.New(swaperr.InvalidInput, "signer does not support Schnorr signing")
	}
	return nil
}

// AssertValidPaymentHash checks that s is a 64-character hex string
// (the hex encoding of a 32-byte payment hash), returning the raw bytes.
func AssertValidPaymentHash(s string) ([32]byte, error) {
	var h [32]byte
	if len(s) != 64 {
		return h, swaperr.Newf(swaperr.InvalidInput, "payment hash hex must be 64 chars, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, swaperr.Wrap(swaperr.InvalidInput, "payment hash is not valid hex", err)
	}
	copy(h[:], raw)
	return h, nil
}
