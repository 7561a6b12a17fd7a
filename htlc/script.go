package htlc

import (
	"github.com/btcsuite/btcd/txscript"

	"github.com/thunder-swap/engine/swaperr"
)

// BuildClaimScript returns the claim tapleaf script:
//
//	OP_SHA256 <paymentHash> OP_EQUALVERIFY <lpPubkeyXOnly> OP_CHECKSIG
func BuildClaimScript(paymentHash [32]byte, lpXOnly [32]byte) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_SHA256).
		AddData(paymentHash[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(lpXOnly[:]).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot build claim script", err)
	}
	return script, nil
}

// BuildRefundScript returns the refund tapleaf script:
//
//	<tLock> OP_CHECKLOCKTIMEVERIFY OP_DROP <userPubkeyXOnly> OP_CHECKSIG
func BuildRefundScript(tLock uint32, userXOnly [32]byte) ([]byte, error) {
	script, err := txscript.NewScriptBuilder().
		AddInt64(int64(tLock)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(userXOnly[:]).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot build refund script", err)
	}
	return script, nil
}

// BuildLeafPair builds both tapleaf scripts for a template.
func BuildLeafPair(t *Template) (*LeafPair, error) {
	lpXOnly, err := xOnlyFromCompressed(t.LPPubkeyCompressed)
	if err != nil {
		return nil, err
	}
	userXOnly, err := xOnlyFromCompressed(t.UserPubkeyCompressed)
	if err != nil {
		return nil, err
	}
	claim, err := BuildClaimScript(t.PaymentHash, lpXOnly)
	if err != nil {
		return nil, err
	}
	refund, err := BuildRefundScript(t.TLock, userXOnly)
	if err != nil {
		return nil, err
	}
	return &LeafPair{ClaimScript: claim, RefundScript: refund}, nil
}
