package htlc

import (
	"bytes"
	"context"
	"encoding/hex"
	"math"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/thunder-swap/engine/btcrpc"
	"github.com/thunder-swap/engine/swaperr"
)

// NodeClient is the narrow slice of the Bitcoin-node adapter the
// verifier needs: fetch a raw transaction by txid.
type NodeClient interface {
	GetRawTransaction(ctx context.Context, txid string) (*btcrpc.TxInfo, error)
}

// Verifier checks an on-chain output against an HTLC template.
type Verifier struct {
	node  NodeClient
	chain *chaincfg.Params
}

// NewVerifier builds a Verifier for the given network.
func NewVerifier(node NodeClient, chain *chaincfg.Params) *Verifier {
	return &Verifier{node: node, chain: chain}
}

// Funding is the result of a successful verification.
type Funding struct {
	Txid          string
	Vout          uint32
	AmountSat     uint64
	Confirmations int64
	ScriptPubKeyHex string
}

// Verify implements §4.6: confirmations, template well-formedness,
// scriptPubKey byte-equality, and amount sufficiency.
func (v *Verifier) Verify(ctx context.Context, txid string, vout uint32, t *Template, invoiceAmountMsat uint64, minConfs int64) (*Funding, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	info, err := v.node.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	if info.Confirmations < minConfs {
		return nil, swaperr.Newf(swaperr.RpcError, "funding tx %s has %d confirmations, need %d", txid, info.Confirmations, minConfs)
	}
	if int(vout) >= len(info.Outputs) {
		return nil, swaperr.Newf(swaperr.RpcError, "vout %d out of range for tx %s", vout, txid)
	}

	if err := checkTemplateScripts(t); err != nil {
		return nil, err
	}

	built, err := Build(t, v.chain)
	if err != nil {
		return nil, err
	}

	output := info.Outputs[vout]
	if len(output.ScriptPubKey) != 34 || output.ScriptPubKey[0] != 0x51 {
		return nil, swaperr.Newf(swaperr.ScriptPubKeyMismatch, "funding output scriptPubKey is not a 34-byte P2TR output")
	}
	if hex.EncodeToString(output.ScriptPubKey) != hex.EncodeToString(built.ScriptPubKey) {
		return nil, swaperr.New(swaperr.ScriptPubKeyMismatch, "funding output scriptPubKey does not match reconstructed htlc scriptPubKey")
	}

	invoiceSats := uint64(math.Ceil(float64(invoiceAmountMsat) / 1000.0))
	if output.ValueSat < invoiceSats {
		return nil, swaperr.Newf(swaperr.AmountTooLow, "funding output has %d sat, invoice requires %d sat", output.ValueSat, invoiceSats)
	}

	return &Funding{
		Txid:            txid,
		Vout:            vout,
		AmountSat:       output.ValueSat,
		Confirmations:   info.Confirmations,
		ScriptPubKeyHex: hex.EncodeToString(output.ScriptPubKey),
	}, nil
}

// checkTemplateScripts implements §4.6 step 3: rebuild the claim and
// refund tapscripts from the template and confirm each contains the
// expected payment hash / x-only pubkey bytes, independently of the
// later on-chain scriptPubKey comparison.
func checkTemplateScripts(t *Template) error {
	leaves, err := BuildLeafPair(t)
	if err != nil {
		return err
	}
	lpXOnly, err := xOnlyFromCompressed(t.LPPubkeyCompressed)
	if err != nil {
		return err
	}
	userXOnly, err := xOnlyFromCompressed(t.UserPubkeyCompressed)
	if err != nil {
		return err
	}

	if !bytes.Contains(leaves.ClaimScript, t.PaymentHash[:]) {
		return swaperr.New(swaperr.TemplateMismatch, "rebuilt claim script does not contain the expected payment hash")
	}
	if !bytes.Contains(leaves.ClaimScript, lpXOnly[:]) {
		return swaperr.New(swaperr.TemplateMismatch, "rebuilt claim script does not contain the expected lp x-only pubkey")
	}
	if !bytes.Contains(leaves.RefundScript, userXOnly[:]) {
		return swaperr.New(swaperr.TemplateMismatch, "rebuilt refund script does not contain the expected user x-only pubkey")
	}
	return nil
}
