package hodlstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/thunder-swap/engine/swaperr"
)

// FileHodlStore is the default Store: all records live in one JSON
// file, keyed by payment hash, rewritten atomically on every Put.
type FileHodlStore struct {
	mu   sync.Mutex
	path string
}

// NewFileHodlStore opens (or creates) the store at path, loading the
// existing contents to validate the file is well-formed JSON.
func NewFileHodlStore(path string) (*FileHodlStore, error) {
	s := &FileHodlStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeAll(map[string]*Record{}); err != nil {
			return nil, err
		}
		return s, nil
	}
	if _, err := s.readAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileHodlStore) readAll() (map[string]*Record, error) {
	buf, err := os.ReadFile(s.path)
	if err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "cannot read hodl store file", err)
	}
	if len(buf) == 0 {
		return map[string]*Record{}, nil
	}
	records := map[string]*Record{}
	if err := json.Unmarshal(buf, &records); err != nil {
		return nil, swaperr.Wrap(swaperr.InternalError, "hodl store file is corrupt", err)
	}
	return records, nil
}

func (s *FileHodlStore) writeAll(records map[string]*Record) error {
	buf, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot marshal hodl store", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".hodl_store-*.tmp")
	if err != nil {
		return swaperr.Wrap(swaperr.InternalError, "cannot create hodl store temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return swaperr.Wrap(swaperr.InternalError, "cannot write hodl store temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return swaperr.Wrap(swaperr.InternalError, "cannot close hodl store temp file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return swaperr.Wrap(swaperr.InternalError, "cannot commit hodl store write", err)
	}
	return nil
}

// Put writes rec, replacing any prior record under the same payment
// hash. Persistence failure is fatal to the caller: this must succeed
// before SubmarineData is published.
func (s *FileHodlStore) Put(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return err
	}
	records[rec.PaymentHash] = rec
	return s.writeAll(records)
}

// Get fetches the record for paymentHash, or nil if none exists.
func (s *FileHodlStore) Get(paymentHash string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return records[paymentHash], nil
}

// Close is a no-op: the file backend holds no open handle between calls.
func (s *FileHodlStore) Close() error {
	return nil
}
