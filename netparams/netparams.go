// Package netparams maps a network tag to its chain parameters and
// address human-readable prefix, the way a WIF/address decoder needs.
package netparams

import (
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/thunder-swap/engine/swaperr"
)

// Tag identifies one of the four networks the engine can run on.
type Tag string

const (
	Regtest Tag = "regtest"
	Signet  Tag = "signet"
	Testnet Tag = "testnet"
	Mainnet Tag = "mainnet"
)

// HRP is the bech32 human-readable part used for Taproot/segwit addresses.
const (
	hrpRegtest = "bcrt"
	hrpTestnet = "tb"
	hrpMainnet = "bc"
)

// Params bundles the chain parameters and address HRP for a network tag.
type Params struct {
	Tag   Tag
	HRP   string
	Chain *chaincfg.Params
}

// Lookup resolves a network tag to its Params. Unknown tags are a
// ConfigError: the caller almost always got this from an env var.
func Lookup(tag Tag) (*Params, error) {
	switch tag {
	case Regtest:
		return &Params{Tag: Regtest, HRP: hrpRegtest, Chain: &chaincfg.RegressionNetParams}, nil
	case Signet:
		return &Params{Tag: Signet, HRP: hrpTestnet, Chain: &chaincfg.SigNetParams}, nil
	case Testnet:
		return &Params{Tag: Testnet, HRP: hrpTestnet, Chain: &chaincfg.TestNet3Params}, nil
	case Mainnet:
		return &Params{Tag: Mainnet, HRP: hrpMainnet, Chain: &chaincfg.MainNetParams}, nil
	default:
		return nil, swaperr.Newf(swaperr.ConfigError, "unknown network tag %q", tag)
	}
}
