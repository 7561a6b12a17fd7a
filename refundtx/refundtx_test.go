package refundtx

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunder-swap/engine/htlc"
	"github.com/thunder-swap/engine/swaperr"
)

func randTemplate(t *testing.T) *htlc.Template {
	var ph [32]byte
	_, err := rand.Read(ph[:])
	require.NoError(t, err)
	lpPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var lp, user [33]byte
	copy(lp[:], lpPriv.PubKey().SerializeCompressed())
	copy(user[:], userPriv.PubKey().SerializeCompressed())
	return &htlc.Template{PaymentHash: ph, LPPubkeyCompressed: lp, UserPubkeyCompressed: user, TLock: 800000}
}

func randAddress(t *testing.T) btcutil.Address {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, err := btcutil.NewAddressTaproot(priv.PubKey().SerializeCompressed()[1:], &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr
}

func TestBuildHappyPath(t *testing.T) {
	req := &Request{
		Txid:          "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Vout:          0,
		UtxoValueSat:  50000,
		Template:      randTemplate(t),
		FeeRate:       5,
		RefundAddress: randAddress(t),
		Chain:         &chaincfg.RegressionNetParams,
	}

	skel, err := Build(req)
	require.NoError(t, err)
	assert.NotEmpty(t, skel.PacketBase64)
	assert.Greater(t, skel.OutputSat, uint64(0))
	assert.NotEmpty(t, skel.ControlBlock)
}

func TestBuildDustAfterFee(t *testing.T) {
	req := &Request{
		Txid:          "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		Vout:          0,
		UtxoValueSat:  1000,
		Template:      randTemplate(t),
		FeeRate:       5,
		RefundAddress: randAddress(t),
		Chain:         &chaincfg.RegressionNetParams,
	}

	_, err := Build(req)
	assert.True(t, swaperr.Is(err, swaperr.DustAfterFee))
}
