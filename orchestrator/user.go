package orchestrator

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"github.com/thunder-swap/engine/cryptoutil"
	"github.com/thunder-swap/engine/deposit"
	"github.com/thunder-swap/engine/hodlstore"
	"github.com/thunder-swap/engine/htlc"
	"github.com/thunder-swap/engine/keys"
	"github.com/thunder-swap/engine/refundtx"
	"github.com/thunder-swap/engine/rln"
	"github.com/thunder-swap/engine/submarine"
	"github.com/thunder-swap/engine/swaperr"
	"github.com/thunder-swap/engine/utxo"
)

// UserState is one state of the USER role's state machine.
type UserState string

const (
	UserDraft            UserState = "DRAFT"
	UserInvoiced         UserState = "INVOICED"
	UserFundingBuilt     UserState = "FUNDING_BUILT"
	UserFundingConfirmed UserState = "FUNDING_CONFIRMED"
	UserPublished        UserState = "PUBLISHED"
	UserWaitingClaimable UserState = "WAITING_CLAIMABLE"
	UserSettling         UserState = "SETTLING"
	UserSettled          UserState = "SETTLED"
	UserFailed           UserState = "FAILED"
	UserTimedOut         UserState = "TIMED_OUT"
)

// UserConfig bundles the knobs the USER role reads from configuration.
type UserConfig struct {
	Chain              *chaincfg.Params
	LPPubkeyCompressed [33]byte
	LocktimeBlocks     uint32
	HodlExpirySec      uint64
	AmountMsat         uint64
	MinConfs           int64
	FeeRate            float64

	PaymentPollMaxAttempts    int
	PaymentPollInterval       time.Duration
	FundingConfirmMaxAttempts int
	FundingConfirmInterval    time.Duration
	InvoiceStatusMaxAttempts  int
	InvoiceStatusInterval     time.Duration
}

// UserMachine drives one full USER-side swap: invoice creation,
// funding, publication, and settlement.
type UserMachine struct {
	cfg     *UserConfig
	signer  *keys.Signer
	derived *keys.Derived
	rln     RlnClient
	node    NodeClient
	store   hodlstore.Store
	pub     SubmarinePublisher
	log     *logrus.Entry

	state UserState
	err   error

	preimage    [32]byte
	paymentHash [32]byte
	invoice     string
	paySecret   string
	tLock       uint32
	template    *htlc.Template
	htlcOut     *htlc.Output
	fundingTxid string
	fundingVout uint32
	fundingSat  uint64
}

// NewUserMachine constructs a USER state machine in DRAFT.
func NewUserMachine(cfg *UserConfig, signer *keys.Signer, derived *keys.Derived, rlnClient RlnClient, node NodeClient, store hodlstore.Store, pub SubmarinePublisher, log *logrus.Entry) *UserMachine {
	return &UserMachine{
		cfg:     cfg,
		signer:  signer,
		derived: derived,
		rln:     rlnClient,
		node:    node,
		store:   store,
		pub:     pub,
		log:     log,
		state:   UserDraft,
	}
}

// State returns the machine's current state.
func (m *UserMachine) State() UserState { return m.state }

// Err returns the error that drove the machine into FAILED, if any.
func (m *UserMachine) Err() error { return m.err }

// Run drives the machine to a terminal state: SETTLED, FAILED, or
// TIMED_OUT. It never retries past a terminal state; the caller is
// responsible for recovery (e.g. Refund) after FAILED/TIMED_OUT.
func (m *UserMachine) Run(ctx context.Context) UserState {
	for {
		m.log.WithField("state", m.state).Debug("user: entering state")

		var err error
		switch m.state {
		case UserDraft:
			err = m.stepDraft(ctx)
		case UserInvoiced:
			err = m.stepInvoiced(ctx)
		case UserFundingBuilt:
			err = m.stepFundingBuilt(ctx)
		case UserFundingConfirmed:
			err = m.stepFundingConfirmed(ctx)
		case UserPublished:
			err = m.stepPublished(ctx)
		case UserSettling:
			err = m.stepSettling(ctx)
		case UserSettled, UserFailed, UserTimedOut:
			return m.state
		default:
			err = swaperr.Newf(swaperr.InternalError, "user: unknown state %q", m.state)
		}

		if err != nil {
			m.log.WithError(err).WithField("state", m.state).Error("user: step failed")
			m.err = err
			if swaperr.Is(err, swaperr.NetworkTimeout) {
				m.state = UserTimedOut
			} else {
				m.state = UserFailed
			}
		}
	}
}

func (m *UserMachine) stepDraft(ctx context.Context) error {
	minMaturity := uint64(m.cfg.LocktimeBlocks) * 600
	if minMaturity <= m.cfg.HodlExpirySec+3600 {
		return swaperr.Newf(swaperr.ConfigError, "locktime %d blocks does not outlast hodl expiry %ds by a safety margin", m.cfg.LocktimeBlocks, m.cfg.HodlExpirySec)
	}

	if _, err := rand.Read(m.preimage[:]); err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot generate preimage", err)
	}
	m.paymentHash = cryptoutil.Sha256(m.preimage[:])
	paymentHashHex := hex.EncodeToString(m.paymentHash[:])

	hodl, err := m.rln.InvoiceHodl(ctx, paymentHashHex, m.cfg.HodlExpirySec, m.cfg.AmountMsat)
	if err != nil {
		return err
	}
	m.invoice = hodl.Invoice
	m.paySecret = hodl.PaymentSecret

	rec := &hodlstore.Record{
		PaymentHash:   paymentHashHex,
		Preimage:      hex.EncodeToString(m.preimage[:]),
		AmountMsat:    m.cfg.AmountMsat,
		ExpirySec:     m.cfg.HodlExpirySec,
		Invoice:       m.invoice,
		PaymentSecret: m.paySecret,
		CreatedAtMs:   time.Now().UnixMilli(),
	}
	if err := m.store.Put(rec); err != nil {
		return err
	}

	m.state = UserInvoiced
	return nil
}

func (m *UserMachine) stepInvoiced(ctx context.Context) error {
	tip, err := m.node.GetBlockCount(ctx)
	if err != nil {
		return err
	}
	m.tLock = uint32(tip) + m.cfg.LocktimeBlocks

	userPubRaw, err := hex.DecodeString(m.derived.CompressedPubkeyHex)
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot decode own pubkey hex", err)
	}
	var userPub [33]byte
	copy(userPub[:], userPubRaw)

	m.template = &htlc.Template{
		PaymentHash:          m.paymentHash,
		LPPubkeyCompressed:   m.cfg.LPPubkeyCompressed,
		UserPubkeyCompressed: userPub,
		TLock:                m.tLock,
	}

	out, err := htlc.Build(m.template, m.cfg.Chain)
	if err != nil {
		return err
	}
	m.htlcOut = out

	m.state = UserFundingBuilt
	return nil
}

func (m *UserMachine) stepFundingBuilt(ctx context.Context) error {
	ownAddr, err := btcutil.DecodeAddress(m.derived.TaprootAddress, m.cfg.Chain)
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot decode own taproot address", err)
	}
	scanned, err := m.node.AddressUtxos(ctx, ownAddr)
	if err != nil {
		return err
	}
	if len(scanned) == 0 {
		return swaperr.New(swaperr.NoUtxos, "no spendable utxos at own taproot address")
	}

	candidates := make([]utxo.Candidate, len(scanned))
	for i, u := range scanned {
		candidates[i] = utxo.Candidate{Txid: u.Txid, Vout: u.Vout, ValueSat: u.ValueSat, ScriptHex: u.ScriptHex, Kind: utxo.P2TR}
	}

	req := &deposit.Request{
		HTLCAddress:   m.htlcOut.Address,
		AmountSat:     m.fundingAmountTargetSat(),
		Candidates:    candidates,
		FeeRate:       m.cfg.FeeRate,
		ChangeAddress: ownAddr,
	}

	res, err := deposit.Broadcast(ctx, req, m.signer, m.node)
	if err != nil {
		return err
	}

	m.fundingTxid = res.Txid
	m.fundingVout = 0
	m.fundingSat = req.AmountSat

	if err := m.waitForConfirmations(ctx); err != nil {
		return err
	}

	m.state = UserFundingConfirmed
	return nil
}

// fundingAmountTargetSat converts the configured invoice amount to
// satoshis, rounding up so the HTLC output can always cover the
// invoice once the LP checks sufficiency in §4.6.
func (m *UserMachine) fundingAmountTargetSat() uint64 {
	return (m.cfg.AmountMsat + 999) / 1000
}

func (m *UserMachine) waitForConfirmations(ctx context.Context) error {
	scriptHex := hex.EncodeToString(m.htlcOut.ScriptPubKey)
	maxAttempts := withDefaultAttempts(m.cfg.FundingConfirmMaxAttempts, defaultFundingConfirmMaxAttempts)
	interval := withDefaultInterval(m.cfg.FundingConfirmInterval, defaultFundingConfirmInterval)

	return pollUntil(ctx, maxAttempts, interval, func() (bool, error) {
		scanned, err := m.node.ScanUtxosByScript(ctx, scriptHex)
		if err != nil {
			return false, err
		}
		for _, u := range scanned {
			if u.Txid == m.fundingTxid && u.Vout == m.fundingVout && u.Confirmations >= m.cfg.MinConfs {
				return true, nil
			}
		}
		return false, nil
	})
}

func (m *UserMachine) stepFundingConfirmed(ctx context.Context) error {
	m.pub.Publish(&submarine.Data{
		Invoice:             m.invoice,
		FundingTxid:         m.fundingTxid,
		FundingVout:         m.fundingVout,
		UserRefundPubkeyHex: m.derived.CompressedPubkeyHex,
		TLock:               m.tLock,
	})
	m.state = UserPublished
	return nil
}

func (m *UserMachine) stepPublished(ctx context.Context) error {
	paymentHashHex := hex.EncodeToString(m.paymentHash[:])
	maxAttempts := withDefaultAttempts(m.cfg.PaymentPollMaxAttempts, defaultPaymentPollMaxAttempts)
	interval := withDefaultInterval(m.cfg.PaymentPollInterval, defaultPaymentPollInterval)

	var terminalErr error
	settledAlready := false

	err := pollUntil(ctx, maxAttempts, interval, func() (bool, error) {
		res, err := m.rln.GetPayment(ctx, paymentHashHex)
		if err != nil {
			return false, err
		}
		if !res.Payment.Inbound {
			return false, nil
		}
		switch res.Payment.Status {
		case rln.StatusClaimable:
			return true, nil
		case rln.StatusSucceeded:
			settledAlready = true
			return true, nil
		case rln.StatusCancelled, rln.StatusFailed:
			terminalErr = swaperr.Newf(swaperr.RlnError, "inbound payment ended with status %s", res.Payment.Status)
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

	if settledAlready {
		m.state = UserSettled
		return nil
	}
	m.state = UserSettling
	return nil
}

func (m *UserMachine) stepSettling(ctx context.Context) error {
	paymentHashHex := hex.EncodeToString(m.paymentHash[:])
	if err := m.rln.InvoiceSettle(ctx, paymentHashHex, hex.EncodeToString(m.preimage[:])); err != nil {
		return err
	}

	maxAttempts := withDefaultAttempts(m.cfg.InvoiceStatusMaxAttempts, defaultInvoiceStatusMaxAttempts)
	interval := withDefaultInterval(m.cfg.InvoiceStatusInterval, defaultInvoiceStatusInterval)
	_ = pollUntil(ctx, maxAttempts, interval, func() (bool, error) {
		res, err := m.rln.InvoiceStatus(ctx, m.invoice)
		if err != nil {
			return false, err
		}
		switch res.Status {
		case rln.StatusSucceeded, rln.StatusCancelled, rln.StatusFailed, rln.StatusExpired:
			return true, nil
		default:
			return false, nil
		}
	})

	m.state = UserSettled
	return nil
}

// Refund builds, signs, and broadcasts the timelocked refund spend of
// the HTLC this machine funded. Only meaningful once tLock has
// matured and no claim has landed; callers invoke this explicitly
// after FAILED or TIMED_OUT, never as part of Run.
func (m *UserMachine) Refund(ctx context.Context) (string, error) {
	if m.template == nil || m.fundingTxid == "" {
		return "", swaperr.New(swaperr.InvalidInput, "no funded htlc to refund")
	}

	ownAddr, err := btcutil.DecodeAddress(m.derived.TaprootAddress, m.cfg.Chain)
	if err != nil {
		return "", swaperr.Wrap(swaperr.InternalError, "cannot decode own taproot address", err)
	}

	skeleton, err := refundtx.Build(&refundtx.Request{
		Txid:          m.fundingTxid,
		Vout:          m.fundingVout,
		UtxoValueSat:  m.fundingSat,
		Template:      m.template,
		FeeRate:       m.cfg.FeeRate,
		RefundAddress: ownAddr,
		Chain:         m.cfg.Chain,
	})
	if err != nil {
		return "", err
	}

	tx, err := finalizeRefund(skeleton, m.signer)
	if err != nil {
		return "", err
	}

	txid, err := m.node.SendRawTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	return txid, nil
}

// finalizeRefund signs the refund leaf's sighash and assembles the
// three-element script-path witness {sig, refundScript, controlBlock}
// (no preimage: the refund leaf only gates on the timelock).
func finalizeRefund(skeleton *refundtx.Skeleton, signer *keys.Signer) (*wire.MsgTx, error) {
	raw, err := b64Decode(skeleton.PacketBase64)
	if err != nil {
		return nil, err
	}
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot parse refund psbt", err)
	}

	unsignedTx := packet.UnsignedTx
	prevOuts := map[wire.OutPoint]*wire.TxOut{
		unsignedTx.TxIn[0].PreviousOutPoint: packet.Inputs[0].WitnessUtxo,
	}
	prevOutFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(unsignedTx, prevOutFetcher)

	refundLeaf := txscript.NewBaseTapLeaf(skeleton.RefundScript)
	sigHash, err := txscript.CalcTapscriptSignaturehash(
		sigHashes, txscript.SigHashDefault, unsignedTx, 0, prevOutFetcher, refundLeaf,
	)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot compute refund tapscript sighash", err)
	}

	sig, err := signer.Sign(sigHash)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "refund signing failed", err)
	}

	witness := wire.TxWitness{sig.Serialize(), skeleton.RefundScript, skeleton.ControlBlock}
	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, witness); err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot serialize refund witness", err)
	}
	packet.Inputs[0].FinalScriptWitness = buf.Bytes()

	signedTx, err := psbt.Extract(packet)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot extract final refund transaction", err)
	}
	return signedTx, nil
}

func b64Decode(s string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot decode base64 psbt", err)
	}
	return raw, nil
}
