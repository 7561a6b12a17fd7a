package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/sirupsen/logrus"

	"github.com/thunder-swap/engine/claimtx"
	"github.com/thunder-swap/engine/htlc"
	"github.com/thunder-swap/engine/keys"
	"github.com/thunder-swap/engine/rln"
	"github.com/thunder-swap/engine/swaperr"
)

// LPState is one state of the LP role's state machine.
type LPState string

const (
	LPAwaitingData   LPState = "AWAITING_DATA"
	LPVerified       LPState = "VERIFIED"
	LPPaying         LPState = "PAYING"
	LPPaymentSettled LPState = "PAYMENT_SETTLED"
	LPClaimed        LPState = "CLAIMED"
	LPFailed         LPState = "FAILED"
	LPTimedOut       LPState = "TIMED_OUT"
)

// LPConfig bundles the knobs the LP role reads from configuration.
type LPConfig struct {
	Chain    *chaincfg.Params
	MinConfs int64
	FeeRate  float64

	AwaitingDataMaxAttempts   int
	AwaitingDataInterval      time.Duration
	PaymentSettledMaxAttempts int
	PaymentSettledInterval    time.Duration
}

// LPMachine drives one full LP-side swap: awaiting the USER's
// submarine data, verifying the on-chain funding, paying the
// invoice, and claiming the HTLC once the preimage surfaces.
type LPMachine struct {
	cfg     *LPConfig
	signer  *keys.Signer
	derived *keys.Derived
	rln     RlnClient
	node    NodeClient
	fetcher SubmarineFetcher
	log     *logrus.Entry

	state LPState
	err   error

	invoice     string
	fundingTxid string
	fundingVout uint32
	tLock       uint32
	userPub     [33]byte
	template    *htlc.Template
	funding     *htlc.Funding
	preimage    [32]byte
	claimTxid   string
}

// NewLPMachine constructs an LP state machine in AWAITING_DATA.
func NewLPMachine(cfg *LPConfig, signer *keys.Signer, derived *keys.Derived, rlnClient RlnClient, node NodeClient, fetcher SubmarineFetcher, log *logrus.Entry) *LPMachine {
	return &LPMachine{
		cfg:     cfg,
		signer:  signer,
		derived: derived,
		rln:     rlnClient,
		node:    node,
		fetcher: fetcher,
		log:     log,
		state:   LPAwaitingData,
	}
}

// State returns the machine's current state.
func (m *LPMachine) State() LPState { return m.state }

// Err returns the error that drove the machine into FAILED, if any.
func (m *LPMachine) Err() error { return m.err }

// ClaimTxid returns the claim transaction id once CLAIMED.
func (m *LPMachine) ClaimTxid() string { return m.claimTxid }

// Run drives the machine to a terminal state: CLAIMED, FAILED, or
// TIMED_OUT.
func (m *LPMachine) Run(ctx context.Context) LPState {
	for {
		m.log.WithField("state", m.state).Debug("lp: entering state")

		var err error
		switch m.state {
		case LPAwaitingData:
			err = m.stepAwaitingData(ctx)
		case LPVerified:
			err = m.stepVerified(ctx)
		case LPPaying:
			err = m.stepPaying(ctx)
		case LPPaymentSettled:
			err = m.stepPaymentSettled(ctx)
		case LPClaimed, LPFailed, LPTimedOut:
			return m.state
		default:
			err = swaperr.Newf(swaperr.InternalError, "lp: unknown state %q", m.state)
		}

		if err != nil {
			m.log.WithError(err).WithField("state", m.state).Error("lp: step failed")
			m.err = err
			if swaperr.Is(err, swaperr.NetworkTimeout) {
				m.state = LPTimedOut
			} else {
				m.state = LPFailed
			}
		}
	}
}

func (m *LPMachine) stepAwaitingData(ctx context.Context) error {
	maxAttempts := withDefaultAttempts(m.cfg.AwaitingDataMaxAttempts, defaultAwaitingDataMaxAttempts)
	interval := withDefaultInterval(m.cfg.AwaitingDataInterval, defaultAwaitingDataInterval)

	data, err := m.fetcher.PollUntilReady(ctx, maxAttempts, interval)
	if err != nil {
		return err
	}

	m.invoice = data.Invoice
	m.fundingTxid = data.FundingTxid
	m.fundingVout = data.FundingVout
	m.tLock = data.TLock

	userPubRaw, err := hex.DecodeString(data.UserRefundPubkeyHex)
	if err != nil {
		return swaperr.Wrap(swaperr.InvalidInput, "malformed user refund pubkey hex", err)
	}
	var userPub [33]byte
	copy(userPub[:], userPubRaw)
	m.userPub = userPub

	m.state = LPVerified
	return nil
}

func (m *LPMachine) stepVerified(ctx context.Context) error {
	decoded, err := m.rln.Decode(ctx, m.invoice)
	if err != nil {
		return err
	}
	paymentHash, err := hex.DecodeString(decoded.PaymentHash)
	if err != nil {
		return swaperr.Wrap(swaperr.InvalidInput, "decoded invoice has malformed payment hash", err)
	}
	var ph [32]byte
	copy(ph[:], paymentHash)

	lpPubRaw, err := hex.DecodeString(m.derived.CompressedPubkeyHex)
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot decode own pubkey hex", err)
	}
	var lpPub [33]byte
	copy(lpPub[:], lpPubRaw)

	// tLock is taken verbatim from SubmarineData, never recomputed
	// from the current chain tip: USER built it against the tip at
	// FUNDING_BUILT time, which has since moved.
	m.template = &htlc.Template{
		PaymentHash:          ph,
		LPPubkeyCompressed:   lpPub,
		UserPubkeyCompressed: m.userPub,
		TLock:                m.tLock,
	}

	verifier := htlc.NewVerifier(m.node, m.cfg.Chain)
	funding, err := verifier.Verify(ctx, m.fundingTxid, m.fundingVout, m.template, decoded.AmtMsat, m.cfg.MinConfs)
	if err != nil {
		return err
	}
	m.funding = funding

	m.state = LPPaying
	return nil
}

func (m *LPMachine) stepPaying(ctx context.Context) error {
	res, err := m.rln.Pay(ctx, m.invoice)
	if err != nil {
		return err
	}
	if res.Status == rln.StatusFailed {
		return swaperr.New(swaperr.RlnError, "payment attempt failed")
	}

	m.state = LPPaymentSettled
	return nil
}

func (m *LPMachine) stepPaymentSettled(ctx context.Context) error {
	paymentHashHex := hex.EncodeToString(m.template.PaymentHash[:])
	maxAttempts := withDefaultAttempts(m.cfg.PaymentSettledMaxAttempts, defaultPaymentPollMaxAttempts)
	interval := withDefaultInterval(m.cfg.PaymentSettledInterval, defaultPaymentPollInterval)

	var terminalErr error
	var preimageHex string

	err := pollUntil(ctx, maxAttempts, interval, func() (bool, error) {
		res, err := m.rln.GetPaymentPreimage(ctx, paymentHashHex)
		if err != nil {
			return false, err
		}
		switch res.Status {
		case rln.StatusSucceeded:
			if res.Preimage == "" {
				return false, nil
			}
			preimageHex = res.Preimage
			return true, nil
		case rln.StatusCancelled, rln.StatusFailed:
			terminalErr = swaperr.Newf(swaperr.RlnError, "payment ended with status %s before a preimage surfaced", res.Status)
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return err
	}
	if terminalErr != nil {
		return terminalErr
	}

	preimageRaw, err := hex.DecodeString(preimageHex)
	if err != nil || len(preimageRaw) != 32 {
		return swaperr.New(swaperr.InvalidInput, "rln returned a malformed preimage")
	}
	copy(m.preimage[:], preimageRaw)

	if sha256.Sum256(m.preimage[:]) != m.template.PaymentHash {
		return swaperr.New(swaperr.PreimageMismatch, "preimage from rln does not hash to the invoice's payment hash")
	}

	return m.claim(ctx)
}

func (m *LPMachine) claim(ctx context.Context) error {
	lpAddr, err := btcutil.DecodeAddress(m.derived.TaprootAddress, m.cfg.Chain)
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot decode own taproot address", err)
	}

	res, err := claimtx.Broadcast(ctx, &claimtx.Request{
		Txid:         m.funding.Txid,
		Vout:         m.funding.Vout,
		UtxoValueSat: m.funding.AmountSat,
		Template:     m.template,
		Preimage:     m.preimage,
		FeeRate:      m.cfg.FeeRate,
		LPAddress:    lpAddr,
		Chain:        m.cfg.Chain,
	}, m.signer, m.node)
	if err != nil {
		return err
	}

	m.claimTxid = res.Txid
	m.state = LPClaimed
	return nil
}
