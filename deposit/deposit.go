// Package deposit builds, signs, and broadcasts the USER's funding
// transaction into an HTLC address: P2TR coin selection, key-path
// Taproot signing, and a change output back to the signer.
package deposit

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/thunder-swap/engine/keys"
	"github.com/thunder-swap/engine/swaperr"
	"github.com/thunder-swap/engine/utxo"
)

// Broadcaster is the narrow slice of package btcrpc this builder needs.
type Broadcaster interface {
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (string, error)
}

// Request bundles the inputs needed to build and broadcast a deposit.
type Request struct {
	HTLCAddress  btcutil.Address
	AmountSat    uint64
	Candidates   []utxo.Candidate
	FeeRate      float64
	ChangeAddress btcutil.Address
}

// Result is the outcome of a successful deposit broadcast.
type Result struct {
	Txid          string
	FeeSat        uint64
	ChangeSat     uint64
	ChangeAddress string
	InputCount    int
	PSBTBase64    string
}

// Build selects inputs, assembles, and signs the deposit transaction
// with signer's key-path-tweaked key, without broadcasting.
func Build(req *Request, signer *keys.Signer) (*Result, *wire.MsgTx, error) {
	sel, err := utxo.Select(req.Candidates, req.AmountSat, req.FeeRate, utxo.P2TR, 1)
	if err != nil {
		return nil, nil, err
	}

	htlcScript, err := txscript.PayToAddrScript(req.HTLCAddress)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot derive htlc output script", err)
	}

	unsignedTx := wire.NewMsgTx(2)
	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(sel.Selected))

	for _, c := range sel.Selected {
		txidHash, err := chainhash.NewHashFromStr(c.Txid)
		if err != nil {
			return nil, nil, swaperr.Wrap(swaperr.InvalidInput, "malformed utxo txid", err)
		}
		outpoint := wire.NewOutPoint(txidHash, c.Vout)
		unsignedTx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))

		script, err := hex.DecodeString(c.ScriptHex)
		if err != nil {
			return nil, nil, swaperr.Wrap(swaperr.InvalidInput, "malformed utxo scriptHex", err)
		}
		txOut := &wire.TxOut{Value: int64(c.ValueSat), PkScript: script}
		prevOuts[*outpoint] = txOut
	}

	unsignedTx.AddTxOut(wire.NewTxOut(int64(req.AmountSat), htlcScript))
	if sel.ChangeSat > 0 {
		changeScript, err := txscript.PayToAddrScript(req.ChangeAddress)
		if err != nil {
			return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot derive change output script", err)
		}
		unsignedTx.AddTxOut(wire.NewTxOut(int64(sel.ChangeSat), changeScript))
	}

	packet, err := psbt.NewFromUnsignedTx(unsignedTx)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot build psbt", err)
	}
	for i, in := range unsignedTx.TxIn {
		packet.Inputs[i].WitnessUtxo = prevOuts[in.PreviousOutPoint]
	}

	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(unsignedTx, prevOutFetcher)

	for i := range unsignedTx.TxIn {
		sigHash, err := txscript.CalcTaprootSignatureHash(
			sigHashes, txscript.SigHashDefault, unsignedTx, i, prevOutFetcher,
		)
		if err != nil {
			return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot compute taproot sighash", err)
		}
		sig, err := signer.SignTaprootKeyPath(sigHash)
		if err != nil {
			return nil, nil, swaperr.Wrap(swaperr.InternalError, "deposit signing failed", err)
		}
		unsignedTx.TxIn[i].Witness = wire.TxWitness{sig.Serialize()}
		packet.Inputs[i].FinalScriptWitness = serializeWitness(wire.TxWitness{sig.Serialize()})
	}

	signedTx, err := psbt.Extract(packet)
	if err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot extract final transaction", err)
	}

	var psbtBuf bytes.Buffer
	if err := packet.Serialize(&psbtBuf); err != nil {
		return nil, nil, swaperr.Wrap(swaperr.InternalError, "cannot serialize psbt", err)
	}

	changeAddr := ""
	if sel.ChangeSat > 0 {
		changeAddr = req.ChangeAddress.EncodeAddress()
	}

	return &Result{
		FeeSat:        sel.FeeSat,
		ChangeSat:     sel.ChangeSat,
		ChangeAddress: changeAddr,
		InputCount:    len(sel.Selected),
		PSBTBase64:    base64.StdEncoding.EncodeToString(psbtBuf.Bytes()),
	}, signedTx, nil
}

// Broadcast builds the deposit via Build and sends it through broadcaster.
func Broadcast(ctx context.Context, req *Request, signer *keys.Signer, broadcaster Broadcaster) (*Result, error) {
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

func serializeWitness(w wire.TxWitness) []byte {
	var buf bytes.Buffer
	_ = psbt.WriteTxWitness(&buf, w)
	return buf.Bytes()
}
