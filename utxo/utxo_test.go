package utxo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thunder-swap/engine/swaperr"
)

func cand(value uint64) Candidate {
	return Candidate{Txid: "deadbeef", Vout: 0, ValueSat: value, ScriptHex: "51", Kind: P2TR}
}

func TestSelectEmptyCandidates(t *testing.T) {
	_, err := Select(nil, 10000, 5, P2TR, 1)
	assert.True(t, swaperr.Is(err, swaperr.NoUtxos))
}

func TestSelectInsufficientFunds(t *testing.T) {
	candidates := []Candidate{cand(1000), cand(2000)}
	_, err := Select(candidates, 100000, 5, P2TR, 1)
	assert.True(t, swaperr.Is(err, swaperr.FundsUnavailable))
}

func TestSelectWithChange(t *testing.T) {
	candidates := []Candidate{cand(50000), cand(10000)}
	res, err := Select(candidates, 20000, 5, P2TR, 1)
	require.NoError(t, err)
	require.Len(t, res.Selected, 1)
	assert.Equal(t, uint64(50000), res.Selected[0].ValueSat)
	assert.Greater(t, res.ChangeSat, uint64(0))
	assert.GreaterOrEqual(t, res.ChangeSat, uint64(p2trDustLimitSat))
}

func TestSelectNoChangeWhenBelowDust(t *testing.T) {
	// Construct a target close enough to the total that any change
	// output would land under the P2TR dust limit.
	total := uint64(20000)
	candidates := []Candidate{cand(total)}
	fee := estimateFee(5, P2TR, 1, 2)
	target := total - fee - p2trDustLimitSat + 10
	res, err := Select(candidates, target, 5, P2TR, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.ChangeSat)
}

func TestSelectGreedyLargestFirst(t *testing.T) {
	candidates := []Candidate{cand(1000), cand(100000), cand(5000)}
	res, err := Select(candidates, 50000, 5, P2TR, 1)
	require.NoError(t, err)
	require.Len(t, res.Selected, 1)
	assert.Equal(t, uint64(100000), res.Selected[0].ValueSat)
}

func TestSelectP2WPKHUsesWiderInputVbytes(t *testing.T) {
	candidates := []Candidate{cand(20000)}
	for i := range candidates {
		candidates[i].Kind = P2WPKH
	}
	res, err := Select(candidates, 10000, 5, P2WPKH, 1)
	require.NoError(t, err)
	assert.NotNil(t, res)
	// At 20 sat/vB the minimum fee no longer dominates: 121.5 vB -> 2430
	// sat for one P2WPKH input versus 111.5 vB -> 2230 sat for P2TR.
	assert.Equal(t, uint64(2430), estimateFee(20, P2WPKH, 1, 1))
	assert.Equal(t, uint64(2230), estimateFee(20, P2TR, 1, 1))
}
