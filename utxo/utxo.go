// Package utxo implements greedy largest-first coin selection over a
// single key's P2TR/P2WPKH outputs, with fee-rate-based vbyte
// estimation and dust-aware change.
package utxo

import (
	"math"
	"sort"

	"github.com/thunder-swap/engine/swaperr"
)

// Kind identifies the scriptPubKey shape of an input or output the
// selector needs to size for fee estimation.
type Kind int

const (
	P2TR Kind = iota
	P2WPKH
)

// vbyte cost constants from the original fee model.
const (
	overheadVbytes      = 10.5
	p2trInputVbytes     = 58.0
	p2wpkhInputVbytes   = 68.0
	p2trOutputVbytes    = 43.0
	minFeeSat           = 1000
	p2trDustLimitSat    = 330
	p2wpkhDustLimitSat  = 294
)

// Candidate is one spendable output available for selection.
type Candidate struct {
	Txid       string
	Vout       uint32
	ValueSat   uint64
	ScriptHex  string
	Kind       Kind
}

// Result is the outcome of a successful selection.
type Result struct {
	Selected   []Candidate
	FeeSat     uint64
	ChangeSat  uint64
}

func inputVbytes(k Kind) float64 {
	if k == P2WPKH {
		return p2wpkhInputVbytes
	}
	return p2trInputVbytes
}

func dustLimit(k Kind) uint64 {
	if k == P2WPKH {
		return p2wpkhDustLimitSat
	}
	return p2trDustLimitSat
}

// estimateFee computes the fee, in satoshis, for spending n inputs of
// kind inputKind to outputCount P2TR-sized outputs at feeRate sat/vB.
func estimateFee(feeRate float64, inputKind Kind, n, outputCount int) uint64 {
	vbytes := overheadVbytes + inputVbytes(inputKind)*float64(n) + p2trOutputVbytes*float64(outputCount)
	fee := uint64(math.Ceil(feeRate * vbytes))
	if fee < minFeeSat {
		return minFeeSat
	}
	return fee
}

// Select runs greedy largest-first accumulation over candidates until
// the selected sum covers target plus the estimated fee for the
// selection-so-far, re-estimating the fee as inputs are added. Change
// is included in the result only when it clears the dust limit for
// inputKind; otherwise it is folded into the fee.
//
// outputCountWithoutChange is the number of non-change outputs the
// caller's transaction will have (usually 1, the HTLC/target output).
func Select(candidates []Candidate, targetSat uint64, feeRate float64, inputKind Kind, outputCountWithoutChange int) (*Result, error) {
	if len(candidates) == 0 {
		return nil, swaperr.New(swaperr.NoUtxos, "no utxos available for selection")
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ValueSat > sorted[j].ValueSat })

	var selected []Candidate
	var sum uint64

	for _, c := range sorted {
		selected = append(selected, c)
		sum += c.ValueSat

		feeNoChange := estimateFee(feeRate, inputKind, len(selected), outputCountWithoutChange)
		if sum < targetSat+feeNoChange {
			continue
		}

		feeWithChange := estimateFee(feeRate, inputKind, len(selected), outputCountWithoutChange+1)
		if sum < targetSat+feeWithChange {
			// Covers the no-change case but not with-change; take it
			// without a change output, excess folds into the fee.
			return &Result{Selected: selected, FeeSat: sum - targetSat, ChangeSat: 0}, nil
		}

		change := sum - targetSat - feeWithChange
		if change < dustLimit(inputKind) {
			return &Result{Selected: selected, FeeSat: sum - targetSat, ChangeSat: 0}, nil
		}
		return &Result{Selected: selected, FeeSat: feeWithChange, ChangeSat: change}, nil
	}

	return nil, swaperr.Newf(swaperr.FundsUnavailable, "insufficient funds: have %d sat across %d utxos, need at least %d sat plus fees", sum, len(sorted), targetSat)
}
