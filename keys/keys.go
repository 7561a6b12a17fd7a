// Package keys derives the compressed pubkey, x-only pubkey, and
// key-path-only Taproot address from a WIF-encoded secp256k1 private
// key, and wraps that key as a Schnorr-capable signer for the spend
// builders (deposit, claim, refund) to use.
package keys

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/thunder-swap/engine/netparams"
	"github.com/thunder-swap/engine/swaperr"
)

// Derived bundles everything the engine needs out of a single WIF key:
// the raw private key, its compressed/x-only public forms, and the
// BIP-86 key-path-only Taproot address (empty merkle root).
type Derived struct {
	PrivKey             *btcec.PrivateKey
	CompressedPubkeyHex string
	XOnlyHex            string
	TaprootAddress      string
}

// FromWIF parses a WIF-encoded private key for the given network,
// rejecting uncompressed keys, and derives the full Derived bundle.
func FromWIF(wifStr string, params *netparams.Params) (*Derived, error) {
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InvalidInput, "cannot decode WIF", err)
	}
	if !wif.IsForNet(params.Chain) {
		return nil, swaperr.New(swaperr.InvalidInput, "WIF key is not for the configured network")
	}
	if !wif.CompressPubKey {
		return nil, swaperr.New(swaperr.InvalidInput, "WIF key must encode a compressed pubkey")
	}

	priv := wif.PrivKey
	compressed := priv.PubKey().SerializeCompressed()
	xOnlyPub := schnorr.SerializePubKey(priv.PubKey())

	taprootKey := txscript.ComputeTaprootKeyNoScript(priv.PubKey())
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(taprootKey), params.Chain)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot derive taproot address", err)
	}

	return &Derived{
		PrivKey:             priv,
		CompressedPubkeyHex: hex.EncodeToString(compressed),
		XOnlyHex:            hex.EncodeToString(xOnlyPub),
		TaprootAddress:      addr.EncodeAddress(),
	}, nil
}

// Signer is a Schnorr-capable signer backed by a single local private
// key. Sign signs with the untweaked key for script-path spends (claim,
// refund); SignTaprootKeyPath signs with the tweaked key for key-path
// spends (deposit).
type Signer struct {
	priv *btcec.PrivateKey
}

// NewSigner wraps a derived private key as a Signer.
func NewSigner(d *Derived) *Signer {
	return &Signer{priv: d.PrivKey}
}

// SupportsSchnorr reports whether the signer holds a private key: any
// local secp256k1 private key can produce a BIP-340 signature.
func (s *Signer) SupportsSchnorr() bool {
	return s.priv != nil
}

// Pub returns the signer's public key.
func (s *Signer) Pub() (*btcec.PublicKey, error) {
	if s.priv == nil {
		return nil, swaperr.New(swaperr.InternalError, "signer has no private key")
	}
	return s.priv.PubKey(), nil
}

// Sign produces a BIP-340 Schnorr signature over a 32-byte sighash,
// signing with the untweaked key (script-path spends sign with the
// raw leaf key, not a taproot-tweaked one).
func (s *Signer) Sign(sigHash []byte) (*schnorr.Signature, error) {
	if len(sigHash) != chainhash.HashSize {
		return nil, swaperr.Newf(swaperr.InvalidInput, "sighash must be %d bytes, got %d", chainhash.HashSize, len(sigHash))
	}
	return schnorr.Sign(s.priv, sigHash)
}

// SignTaprootKeyPath signs with the BIP-341 key-path tweaked private
// key: priv + TaggedHash("TapTweak", xOnly(pub)). Used by the deposit
// builder, which spends its own key-path Taproot UTXOs.
func (s *Signer) SignTaprootKeyPath(sigHash []byte) (*schnorr.Signature, error) {
	if len(sigHash) != chainhash.HashSize {
		return nil, swaperr.Newf(swaperr.InvalidInput, "sighash must be %d bytes, got %d", chainhash.HashSize, len(sigHash))
	}
	tweaked := txscript.TweakTaprootPrivKey(*s.priv, nil)
	return schnorr.Sign(tweaked, sigHash)
}
