// Package claimtx builds and broadcasts the script-path claim spend
// of an HTLC output: the LP proves knowledge of the preimage and
// signs with its claim-leaf key, paying itself.
package claimtx

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
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
	overheadVbytes    = 10.5
	claimInputVbytes  = 120.0
	claimOutputVbytes = 43.0
	minFeeSat         = 1000
	dustLimitSat      = 330
)

// Broadcaster is the narrow slice of package btcrpc this builder needs.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (string, error)
}

// Signer is the narrow slice of package keys this builder needs: a
// Schnorr-capable raw (untweaked) signer for the claim leaf's key.
type Signer interface {
	SupportsSchnorr() bool
	Sign(sigHash []byte) (*schnorr.Signature, error)
}

// Request bundles everything needed to build and broadcast a claim.
type Request struct {
	Txid              string
	Vout              uint32
	UtxoValueSat      uint64
	Template          *htlc.Template
	Preimage          [32]byte
	FeeRate           float64
	LPAddress         btcutil.Address
	Chain             *chaincfg.Params
}

// Result is the outcome of a successful claim broadcast.
type Result struct {
	Txid      string
	Hex       string
	FeeSat    uint64
	OutputSat uint64
}

// Build assembles, signs, and returns the claim transaction without
// broadcasting it (Broadcast does that separately so callers can
// inspect the result first).
func Build(req *Request, signer Signer) (*Result, *wire.MsgTx, error) {
	hash := sha256.Sum256(req.Preimage[:])
	if hash != req.Template.PaymentHash {
		return nil, nil, swaperr.New(swaperr.PreimageMismatch, "preimage does not hash to the template's payment hash")
	}
	if !signer.SupportsSchnorr() {
		return nil, nil, swaperr.New(swaperr.InvalidInput, "claim signer does not support schnorr signing")
	}

	leaves, err := htlc.BuildLeafPair(req.Template)
	if err != nil {
		return nil, nil, err
	}
	out, err := htlc.Build(req.Template, req.Chain)
	if err != nil {
		return nil, nil, err
	}
	controlBlock, err := out.ControlBlock(htlc.ClaimLeaf)
	if err != nil {
		return nil, nil, err
	}

	feeSat := uint64(math.Ceil(req.FeeRate * (overheadVbytes + claimInputVbytes + claimOutputVbytes)))
	if feeSat < minFeeSat {
		feeSat = minFeeSat
	}
	if feeSat > req.UtxoValueSat {
		return nil, nil, swaperr.New(swaperr.DustAfterFee, "fee exceeds utxo value")
	}
	outputValue := req.UtxoValueSat - feeSat
	if outputValue < dustLimitSat {
		return nil, nil, swaperr.Newf(swaperr.DustAfterFee, "claim output %d sat is below dust limit %d", outputValue, dustLimitSat)
	}

	txidHash, err := chainhash.NewHashFromStr(req.Txid)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InvalidInput, "malformed funding txid", err)
	}
	outpoint := wire.NewOutPoint(txidHash, req.Vout)

	unsignedTx := wire.NewMsgTx(2)
	unsignedTx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
	lpScript, err := txscript.PayToAddrScript(req.LPAddress)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot derive lp output script", err)
	}
	unsignedTx.AddTxOut(wire.NewTxOut(int64(outputValue), lpScript))

	packet, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot build psbt", err)
	}
	witnessUtxo := &wire.TxOut{Value: int64(req.UtxoValueSat), PkScript: out.ScriptPubKey}
	packet.Inputs[0].WitnessUtxo = witnessUtxo

	prevOuts := map[wire.OutPoint]*wire.TxOut{*outpoint: witnessUtxo}
	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(unsignedTx, prevOutFetcher)

	claimLeaf := txscript.NewBaseTapLeaf(leaves.ClaimScript)
	sigHash, err := txscript.CalcTapscriptSignaturehash(
		sigHashes, txscript.SigHashDefault, unsignedTx, 0, prevOutFetcher, claimLeaf,
	)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot compute tapscript sighash", err)
	}

	sig, err := signer.Sign(sigHash)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "claim signing failed", err)
	}

	witness := wire.TxWitness{sig.Serialize(), req.Preimage[:], leaves.ClaimScript, controlBlock}
	var witnessBuf bytes.Buffer
	if err := psbt.WriteTxWitness(&witnessBuf, witness); err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot serialize witness", err)
	}
	packet.Inputs[0].FinalScriptWitness = witnessBuf.Bytes()

	signedTx, err := psbt.Extract(packet)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot extract final transaction", err)
	}

	var rawBuf bytes.Buffer
	if err := signedTx.Serialize(&rawBuf); err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot serialize final transaction", err)
	}

	return &Result{
		Hex:       hex.EncodeToString(rawBuf.Bytes()),
		FeeSat:    feeSat,
		OutputSat: outputValue,
	}, signedTx, nil
}

// Broadcast builds the claim via Build and sends it through broadcaster.
func Broadcast(ctx context.Context, req *Request, signer Signer, broadcaster Broadcaster) (*Result, error) {
	res, tx, err := Build(req, signer)
	if err != nil {
		return nil, err
	}
	txid, err := broadcaster.SendRawTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	res.Txid = txid
	return res, nil
}
