// Package btcrpc wraps github.com/btcsuite/btcd/rpcclient with the
// narrow set of node operations the swap engine consumes: block
// height, raw transaction lookup with confirmations, an output-by-
// script scan for deposit detection, and broadcast.
package btcrpc

import (
	"context"
	"encoding/hex"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"

	"github.com/thunder-swap/engine/swaperr"
)

// Config holds the connection parameters for a single Bitcoin node.
type Config struct {
	Host     string
	User     string
	Pass     string
}

// Client wraps rpcclient.Client with the operations this engine needs.
type Client struct {
	rpc   *rpcclient.Client
	chain *chaincfg.Params
	log   *logrus.Entry
}

// New dials a Bitcoin node over HTTP POST, matching the original
// bridge's node wrapper (no TLS, HTTP POST mode — the standard
// bitcoind RPC transport).
func New(cfg *Config, chain *chaincfg.Params, log *logrus.Entry) (*Client, error) {
	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.RpcError, "cannot connect to bitcoin node", err)
	}
	return &Client{rpc: rpc, chain: chain, log: log}, nil
}

// Close shuts down the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Shutdown()
}

// GetBlockCount returns the current chain tip height.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	height, err := c.rpc.GetBlockCount()
	if err != nil {
		return 0, swaperr.Wrap(swaperr.RpcError, "getblockcount failed", err)
	}
	return height, nil
}

// TxInfo is the subset of getrawtransaction verbose output this
// engine needs.
type TxInfo struct {
	Confirmations int64
	Outputs       []TxOutput
}

// TxOutput is one output of a fetched transaction.
type TxOutput struct {
	ValueSat     uint64
	ScriptPubKey []byte
}

// GetRawTransaction fetches a transaction with confirmation count and
// decoded outputs. Requires -txindex on the node, per the original
// wrapper's caveat.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (*TxInfo, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InvalidInput, "malformed txid", err)
	}
	verbose, err := c.rpc.GetRawTransactionVerbose(hash)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.RpcError, "getrawtransaction failed", err)
	}

	outs := make([]TxOutput, len(verbose.Vout))
	for i, out := range verbose.Vout {
		script, err := hex.DecodeString(out.ScriptPubKey.Hex)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.RpcError, "node returned malformed scriptPubKey hex", err)
		}
		outs[i] = TxOutput{
			ValueSat:     btcToSat(out.Value),
			ScriptPubKey: script,
		}
	}

	return &TxInfo{Confirmations: int64(verbose.Confirmations), Outputs: outs}, nil
}

// OutputQuery filters GetTransactionOutput's validation beyond the
// bare txid/vout lookup.
type OutputQuery struct {
	ExpectedScriptPubKeyHex string
	RequireUnspent          bool
}

// GetTransactionOutput fetches one specific output, optionally
// validating its scriptPubKey and unspent status.
func (c *Client) GetTransactionOutput(ctx context.Context, txid string, vout uint32, q OutputQuery) (*TxOutput, error) {
	info, err := c.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	if int(vout) >= len(info.Outputs) {
		return nil, swaperr.Newf(swaperr.RpcError, "vout %d out of range for tx %s with %d outputs", vout, txid, len(info.Outputs))
	}
	out := info.Outputs[vout]

	if q.ExpectedScriptPubKeyHex != "" {
		got := hex.EncodeToString(out.ScriptPubKey)
		if got != q.ExpectedScriptPubKeyHex {
			return nil, swaperr.Newf(swaperr.ScriptPubKeyMismatch, "output scriptPubKey %s does not match expected %s", got, q.ExpectedScriptPubKeyHex)
		}
	}

	if q.RequireUnspent {
		hash, err := chainhash.NewHashFromStr(txid)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.InvalidInput, "malformed txid", err)
		}
		txOut, err := c.rpc.GetTxOut(hash, vout, false)
		if err != nil {
			return nil, swaperr.Wrap(swaperr.RpcError, "gettxout failed", err)
		}
		if txOut == nil {
			return nil, swaperr.Newf(swaperr.RpcError, "output %s:%d is already spent", txid, vout)
		}
	}

	return &out, nil
}

// ScannedUtxo is one candidate output returned from a script scan.
type ScannedUtxo struct {
	Txid          string
	Vout          uint32
	ValueSat      uint64
	ScriptHex     string
	Confirmations int64
}

// ScanUtxosByScript scans unspent outputs for the given scriptPubKey
// by deriving its address and listing unspent outputs for it —
// equivalent to the original wrapper's ListUnspentMinMaxAddresses
// scan, generalized to an arbitrary (here, P2TR) script.
func (c *Client) ScanUtxosByScript(ctx context.Context, scriptHex string) ([]ScannedUtxo, error) {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InvalidInput, "malformed scriptHex", err)
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, c.chain)
	if err != nil || len(addrs) == 0 {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot derive address from script", err)
	}

	unspent, err := c.rpc.ListUnspentMinMaxAddresses(0, 9999999, addrs)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.RpcError, "listunspent failed", err)
	}

	out := make([]ScannedUtxo, 0, len(unspent))
	for _, u := range unspent {
		out = append(out, ScannedUtxo{
			Txid:          u.TxID,
			Vout:          u.Vout,
			ValueSat:      btcToSat(u.Amount),
			ScriptHex:     u.ScriptPubKey,
			Confirmations: int64(u.Confirmations),
		})
	}
	return out, nil
}

// SendRawTransaction broadcasts a signed transaction and returns its txid.
func (c *Client) SendRawTransaction(ctx context.Context, tx *wire.MsgTx) (string, error) {
	hash, err := c.rpc.SendRawTransaction(tx, true)
	if err != nil {
		return "", swaperr.Wrap(swaperr.RpcError, "sendrawtransaction failed", err)
	}
	return hash.String(), nil
}

// AddressUtxos lists unspent outputs paying to addr, used directly by
// the orchestrator's USER-side coin-selection scan of its own taproot
// address (ScanUtxosByScript serves the HTLC-output confirmation poll
// instead, where only a scriptPubKey, not an owned address, is at hand).
func (c *Client) AddressUtxos(ctx context.Context, addr btcutil.Address) ([]ScannedUtxo, error) {
	unspent, err := c.rpc.ListUnspentMinMaxAddresses(0, 9999999, []btcutil.Address{addr})
	if err != nil {
		return nil, swaperr.Wrap(swaperr.RpcError, "listunspent failed", err)
	}
	out := make([]ScannedUtxo, 0, len(unspent))
	for _, u := range unspent {
		out = append(out, ScannedUtxo{
			Txid:          u.TxID,
			Vout:          u.Vout,
			ValueSat:      btcToSat(u.Amount),
			ScriptHex:     u.ScriptPubKey,
			Confirmations: int64(u.Confirmations),
		})
	}
	return out, nil
}

func btcToSat(btc float64) uint64 {
	return uint64(math.Round(btc * 1e8))
}
