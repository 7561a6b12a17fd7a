// Package orchestrator drives the two swap roles' state machines: the
// USER side that funds an HTLC and settles a HODL invoice, and the LP
// side that pays the invoice and claims the HTLC once it is
// claimable. Each machine composes the lower packages (keys, htlc,
// deposit, claimtx, refundtx, rln, btcrpc, hodlstore, submarine) into
// one sequential, single-goroutine loop per role.
package orchestrator

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"

	"github.com/thunder-swap/engine/btcrpc"
	"github.com/thunder-swap/engine/rln"
	"github.com/thunder-swap/engine/submarine"
	"github.com/thunder-swap/engine/swaperr"
)

// defaultPaymentPollMaxAttempts/Interval govern the USER's PUBLISHED
// poll of rln.getPayment and the LP's PAYMENT_SETTLED poll of
// rln.getPaymentPreimage, per spec §4.13/§4.14.
const (
	defaultPaymentPollMaxAttempts = 120
	defaultPaymentPollInterval    = 5 * time.Second
)

// defaultAwaitingDataMaxAttempts/Interval govern the LP's AWAITING_DATA
// poll of the submarine-data channel, per spec §4.14.
const (
	defaultAwaitingDataMaxAttempts = 1800
	defaultAwaitingDataInterval    = 2 * time.Second
)

// defaultFundingConfirmMaxAttempts/Interval govern the USER's
// FUNDING_BUILT poll of scanUtxosByScript for the htlc output's
// confirmation count. The spec leaves the exact bound open; chosen to
// comfortably outlast one block interval on regtest/signet.
const (
	defaultFundingConfirmMaxAttempts = 120
	defaultFundingConfirmInterval    = 5 * time.Second
)

// defaultInvoiceStatusMaxAttempts/Interval govern the USER's SETTLED
// poll of rln.invoiceStatus for a terminal status.
const (
	defaultInvoiceStatusMaxAttempts = 60
	defaultInvoiceStatusInterval    = 5 * time.Second
)

func withDefaultAttempts(n int, def int) int {
	if n <= 0 {
		return def
	}
	return n
}

func withDefaultInterval(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// NodeClient is the narrow slice of package btcrpc both orchestrators
// need: chain tip, raw-tx lookup (also satisfies htlc.NodeClient),
// script/address UTXO scans, output lookup, and broadcast.
type NodeClient interface {
	GetBlockCount(ctx context.Context) (int64, error)
	GetRawTransaction(ctx context.Context, txid string) (*btcrpc.TxInfo, error)
	GetTransactionOutput(ctx context.Context, txid string, vout uint32, q btcrpc.OutputQuery) (*btcrpc.TxOutput, error)
	ScanUtxosByScript(ctx context.Context, scriptHex string) ([]btcrpc.ScannedUtxo, error)
	AddressUtxos(ctx context.Context, addr btcutil.Address) ([]btcrpc.ScannedUtxo, error)
	SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (string, error)
}

// RlnClient is the narrow slice of package rln both orchestrators need.
type RlnClient interface {
	Decode(ctx context.Context, invoice string) (*rln.DecodeResult, error)
	Pay(ctx context.Context, invoice string) (*rln.PayResult, error)
	GetPayment(ctx context.Context, paymentHash string) (*rln.GetPaymentResult, error)
	GetPaymentPreimage(ctx context.Context, paymentHash string) (*rln.PreimageResult, error)
	InvoiceHodl(ctx context.Context, paymentHash string, expirySec, amtMsat uint64) (*rln.HodlInvoiceResult, error)
	InvoiceSettle(ctx context.Context, paymentHash, preimage string) error
	InvoiceCancel(ctx context.Context, paymentHash string) error
	InvoiceStatus(ctx context.Context, invoice string) (*rln.InvoiceStatusResult, error)
}

// SubmarinePublisher is the USER-side half of the submarine-data channel.
type SubmarinePublisher interface {
	Publish(data *submarine.Data)
}

// SubmarineFetcher is the LP-side half of the submarine-data channel.
type SubmarineFetcher interface {
	PollUntilReady(ctx context.Context, maxAttempts int, interval time.Duration) (*submarine.Data, error)
}

// pollFunc is retried by pollUntil until it returns done=true, an
// error, or attempts are exhausted.
type pollFunc func() (done bool, err error)

func pollUntil(ctx context.Context, maxAttempts int, interval time.Duration, fn pollFunc) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return swaperr.Wrap(swaperr.NetworkTimeout, "orchestrator poll cancelled", ctx.Err())
		case <-time.After(interval):
		}
	}
	return swaperr.New(swaperr.NetworkTimeout, "orchestrator poll exhausted max attempts")
}
