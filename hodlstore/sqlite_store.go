package hodlstore

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thunder-swap/engine/swaperr"
)

// SQLiteHodlStore is the alternate backend, selected via
// HODL_STORE_BACKEND=sqlite. Same Store contract as FileHodlStore,
// backed by a single-table embedded database instead of JSON.
type SQLiteHodlStore struct {
	db *sql.DB
}

// NewSQLiteHodlStore opens (or creates) the database at dbPath.
func NewSQLiteHodlStore(dbPath string) (*SQLiteHodlStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot open hodl store database", err)
	}
	s := &SQLiteHodlStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHodlStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS hodl_record (
		payment_hash TEXT PRIMARY KEY,
		preimage TEXT,
		amount_msat INTEGER,
		expiry_sec INTEGER,
		invoice TEXT,
		payment_secret TEXT,
		created_at_ms INTEGER
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot initialize hodl store schema", err)
	}
	return nil
}

// Put upserts rec by payment hash.
func (s *SQLiteHodlStore) Put(rec *Record) error {
	query := `
	INSERT INTO hodl_record (payment_hash, preimage, amount_msat, expiry_sec, invoice, payment_secret, created_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(payment_hash) DO UPDATE SET
		preimage=excluded.preimage,
		amount_msat=excluded.amount_msat,
		expiry_sec=excluded.expiry_sec,
		invoice=excluded.invoice,
		payment_secret=excluded.payment_secret,
		created_at_ms=excluded.created_at_ms
	`
	_, err := s.db.Exec(query, rec.PaymentHash, rec.Preimage, rec.AmountMsat, rec.ExpirySec, rec.Invoice, rec.PaymentSecret, rec.CreatedAtMs)
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot persist hodl record", err)
	}
	return nil
}

// Get fetches the record for paymentHash, or nil if none exists.
func (s *SQLiteHodlStore) Get(paymentHash string) (*Record, error) {
	query := `SELECT payment_hash, preimage, amount_msat, expiry_sec, invoice, payment_secret, created_at_ms FROM hodl_record WHERE payment_hash = ?`
	row := s.db.QueryRow(query, paymentHash)

	var rec Record
	err := row.Scan(&rec.PaymentHash, &rec.Preimage, &rec.AmountMsat, &rec.ExpirySec, &rec.Invoice, &rec.PaymentSecret, &rec.CreatedAtMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot read hodl record", err)
	}
	return &rec, nil
}

// Close releases the underlying database handle.
func (s *SQLiteHodlStore) Close() error {
	if err := s.db.Close(); err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot close hodl store database", err)
	}
	return nil
}
