// Package hodlstore persists HodlRecord entries keyed by payment hash.
// The default backend is a single JSON file written atomically
// (write-temp, then rename); an alternate SQLite backend is available
// for deployments that want a real embedded database.
package hodlstore

import (
	"os"
	"path/filepath"

	"github.com/thunder-swap/engine/swaperr"
)

// Record is the persisted HODL-invoice record: created once, read by
// the USER role to settle, never mutated thereafter.
type Record struct {
	PaymentHash   string `json:"paymentHash"`
	Preimage      string `json:"preimage"`
	AmountMsat    uint64 `json:"amountMsat"`
	ExpirySec     uint64 `json:"expirySec"`
	Invoice       string `json:"invoice"`
	PaymentSecret string `json:"paymentSecret"`
	CreatedAtMs   int64  `json:"createdAtMs"`
}

// Store is the persistence contract the orchestrators depend on.
type Store interface {
	Put(rec *Record) error
	Get(paymentHash string) (*Record, error)
	Close() error
}

// DefaultPath returns ~/.thunder-swap/hodl_store.json, creating the
// parent directory if it does not exist.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", swaperr.Wrap(swaperr.ConfigError, "cannot determine home directory", err)
	}
	dir := filepath.Join(home, ".thunder-swap")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", swaperr.Wrap(swaperr.InternalError, "cannot create hodl store directory", err)
	}
	return filepath.Join(dir, "hodl_store.json"), nil
}
