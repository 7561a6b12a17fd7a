// Package refundtx builds the unsigned refund PSBT skeleton for an
// HTLC's timelock spend path: nLockTime = tLock, a non-final input
// sequence to enable CLTV, and the refund tapleaf/control-block
// attached for the refund holder to sign once tLock has matured.
package refundtx

import (
	"bytes"
	"encoding/base64"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/thunder-swap/engine/htlc"
	"github.com/thunder-swap/engine/swaperr"
)

const (
	overheadVbytes     = 10.5
	refundInputVbytes  = 100.0
	refundOutputVbytes = 43.0
	minFeeSat          = 1000
	dustLimitSat       = 330
)

// nonFinalSequence is any sequence below wire.MaxTxInSequenceNum so
// nLockTime is honored by consensus.
const nonFinalSequence = wire.MaxTxInSequenceNum - 1

// Request bundles the inputs needed to build an unsigned refund skeleton.
type Request struct {
	Txid          string
	Vout          uint32
	UtxoValueSat  uint64
	Template      *htlc.Template
	FeeRate       float64
	RefundAddress btcutil.Address
	Chain         *chaincfg.Params
}

// Skeleton is the unsigned refund PSBT plus the data the eventual
// signer needs to produce the script-path witness.
type Skeleton struct {
	PacketBase64 string
	FeeSat       uint64
	OutputSat    uint64
	RefundScript []byte
	ControlBlock []byte
}

// Build constructs the unsigned refund PSBT. It is never signed here —
// the refund holder signs it independently once tLock has matured.
func Build(req *Request) (*Skeleton, error) {
	leaves, err := htlc.BuildLeafPair(req.Template)
	if err != nil {
		return nil, err
	}
	out, err := htlc.Build(req.Template, req.Chain)
	if err != nil {
		return nil, err
	}
	controlBlock, err := out.ControlBlock(htlc.RefundLeaf)
	if err != nil {
		return nil, err
	}

	feeSat := uint64(math.Ceil(req.FeeRate * (overheadVbytes + refundInputVbytes + refundOutputVbytes)))
	if feeSat < minFeeSat {
		feeSat = minFeeSat
	}
	if feeSat > req.UtxoValueSat {
		return nil, swaperr.New(swaperr.DustAfterFee, "fee exceeds utxo value")
	}
	outputValue := req.UtxoValueSat - feeSat
	if outputValue < dustLimitSat {
		return nil, swaperr.Newf(swaperr.DustAfterFee, "refund output %d sat is below dust limit %d", outputValue, dustLimitSat)
	}

	txidHash, err := chainhash.NewHashFromStr(req.Txid)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InvalidInput, "malformed funding txid", err)
	}
	outpoint := wire.NewOutPoint(txidHash, req.Vout)

	unsignedTx := wire.NewMsgTx(2)
	unsignedTx.LockTime = req.Template.TLock
	unsignedTx.AddTxIn(&wire.TxIn{PreviousOutPoint: *outpoint, Sequence: nonFinalSequence})

	refundScript, err := txscript.PayToAddrScript(req.RefundAddress)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot derive refund output script", err)
	}
	unsignedTx.AddTxOut(wire.NewTxOut(int64(outputValue), refundScript))

	packet, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot build psbt", err)
	}
	packet.Inputs[0].WitnessUtxo = &wire.TxOut{Value: int64(req.UtxoValueSat), PkScript: out.ScriptPubKey}
	packet.Inputs[0].TaprootLeafScript = []*psbt.TaprootTapLeafScript{
		{
			ControlBlock: controlBlock,
			Script:       leaves.RefundScript,
			LeafVersion:  txscript.BaseLeafVersion,
		},
	}

	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot serialize psbt", err)
	}

	return &Skeleton{
		PacketBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		FeeSat:       feeSat,
		OutputSat:    outputValue,
		RefundScript: leaves.RefundScript,
		ControlBlock: controlBlock,
	}, nil
}
