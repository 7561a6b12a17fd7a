package htlc

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"

	"github.com/thunder-swap/engine/cryptoutil"
	"github.com/thunder-swap/engine/swaperr"
)

// LeafKind selects which of the two tapscript leaves a control block
// is being built for.
type LeafKind int

const (
	ClaimLeaf LeafKind = iota
	RefundLeaf
)

// Output is the fully assembled on-chain shape of an HTLC: its
// Taproot scriptPubKey/address, and everything needed to build a
// control block for either spend path.
type Output struct {
	InternalKeyXOnly [32]byte
	OutputKeyXOnly   [32]byte
	OutputKeyIsOdd   bool
	MerkleRoot       [32]byte
	ClaimLeafHash    chainhash.Hash
	RefundLeafHash   chainhash.Hash
	ScriptPubKey     []byte
	Address          btcutil.Address
}

// Build assembles the full Output for a template: the tapscript tree,
// the tweaked output key, and the reconstructed scriptPubKey/address.
func Build(t *Template, chain *chaincfg.Params) (*Output, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	leaves, err := BuildLeafPair(t)
	if err != nil {
		return nil, err
	}

	internalXOnly, err := DeriveInternalKey()
	if err != nil {
		return nil, err
	}
	internalPub, err := schnorr.ParsePubKey(internalXOnly[:])
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "internal key is not a valid curve point", err)
	}

	claimTapLeaf := txscript.NewBaseTapLeaf(leaves.ClaimScript)
	refundTapLeaf := txscript.NewBaseTapLeaf(leaves.RefundScript)
	tree := txscript.AssembleTaprootScriptTree(claimTapLeaf, refundTapLeaf)
	merkleRoot := tree.RootNode.TapHash()

	outputKey := txscript.ComputeTaprootOutputKey(internalPub, merkleRoot[:])
	outputKeyXOnly := schnorr.SerializePubKey(outputKey)
	outputKeyIsOdd := outputKey.SerializeCompressed()[0] == 0x03

	addr, err := btcutil.NewAddressTaproot(outputKeyXOnly, chain)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot derive htlc address", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot derive htlc scriptPubKey", err)
	}

	var outXOnly [32]byte
	copy(outXOnly[:], outputKeyXOnly)

	return &Output{
		InternalKeyXOnly: internalXOnly,
		OutputKeyXOnly:   outXOnly,
		OutputKeyIsOdd:   outputKeyIsOdd,
		MerkleRoot:       merkleRoot,
		ClaimLeafHash:    claimTapLeaf.TapHash(),
		RefundLeafHash:   refundTapLeaf.TapHash(),
		ScriptPubKey:     pkScript,
		Address:          addr,
	}, nil
}

// ControlBlock builds the BIP-341 control block bytes for spending
// via kind's leaf: the sibling is the other leaf's hash, since this
// tree has exactly two leaves.
func (o *Output) ControlBlock(kind LeafKind) ([]byte, error) {
	internalPub, err := schnorr.ParsePubKey(o.InternalKeyXOnly[:])
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "internal key is not a valid curve point", err)
	}

	var sibling chainhash.Hash
	switch kind {
	case ClaimLeaf:
		sibling = o.RefundLeafHash
	case RefundLeaf:
		sibling = o.ClaimLeafHash
	default:
		return nil, swaperr.Newf(swaperr.InvalidInput, "unknown leaf kind %d", kind)
	}

	cb := txscript.ControlBlock{
		InternalKey:     internalPub,
		OutputKeyYIsOdd: o.OutputKeyIsOdd,
		LeafVersion:     txscript.BaseLeafVersion,
		InclusionProof:  sibling[:],
	}
	raw, err := cb.ToBytes()
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot serialize control block", err)
	}
	return raw, nil
}

func xOnlyFromCompressed(compressed [33]byte) ([32]byte, error) {
	return cryptoutil.CompressedToXOnly(compressed[:])
}
