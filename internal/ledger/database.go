package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	invoicesBucket = "invoices"
	indexBucket    = "invoice_index"
)

// ErrNotFound is returned when an invoice does not exist for the owner
var ErrNotFound = errors.New("invoice not found")

// DB defines the interface for invoice persistence
type DB interface {
	// SaveInvoice stores a new invoice under its owner
	SaveInvoice(inv *StoredInvoice) error

	// GetInvoice retrieves an invoice of owner by ID
	GetInvoice(owner, id string) (*StoredInvoice, error)

	// ListRecent returns up to limit invoices of owner, newest first. A limit
	// of zero or less returns all of them.
	ListRecent(owner string, limit int) ([]*StoredInvoice, error)

	// DeleteInvoice removes an invoice of owner
	DeleteInvoice(owner, id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements DB. Each owner gets a nested bucket keyed by an
// increasing sequence, so a reverse cursor walk yields newest-first order.
// A second nested bucket maps invoice IDs to their sequence keys.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens or creates the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{invoicesBucket, indexBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveInvoice stores inv under a fresh sequence key
func (b *BoltDB) SaveInvoice(inv *StoredInvoice) error {
	if inv.ID == "" {
		return errors.New("invoice id is required")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		records, err := tx.Bucket([]byte(invoicesBucket)).CreateBucketIfNotExists([]byte(inv.Owner))
		if err != nil {
			return fmt.Errorf("creating owner bucket: %w", err)
		}
		index, err := tx.Bucket([]byte(indexBucket)).CreateBucketIfNotExists([]byte(inv.Owner))
		if err != nil {
			return fmt.Errorf("creating owner index: %w", err)
		}
		if index.Get([]byte(inv.ID)) != nil {
			return fmt.Errorf("invoice %s already exists", inv.ID)
		}

		seq, err := records.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		key := sequenceKey(seq)

		data, err := json.Marshal(inv)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		if err := records.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(inv.ID), key)
	})
}

// GetInvoice retrieves an invoice of owner by ID
func (b *BoltDB) GetInvoice(owner, id string) (*StoredInvoice, error) {
	var inv *StoredInvoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		records, key := lookup(tx, owner, id)
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(records.Get(key), &inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListRecent returns up to limit invoices of owner, newest first
func (b *BoltDB) ListRecent(owner string, limit int) ([]*StoredInvoice, error) {
	invoices := make([]*StoredInvoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket([]byte(invoicesBucket)).Bucket([]byte(owner))
		if records == nil {
			return nil
		}
		c := records.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(invoices) >= limit {
				break
			}
			var inv StoredInvoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			invoices = append(invoices, &inv)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// DeleteInvoice removes an invoice of owner
func (b *BoltDB) DeleteInvoice(owner, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		records, key := lookup(tx, owner, id)
		if key == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := records.Delete(key); err != nil {
			return err
		}
		return tx.Bucket([]byte(indexBucket)).Bucket([]byte(owner)).Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// lookup resolves id to the owner's record bucket and sequence key. key is
// nil when the invoice does not exist.
func lookup(tx *bbolt.Tx, owner, id string) (*bbolt.Bucket, []byte) {
	records := tx.Bucket([]byte(invoicesBucket)).Bucket([]byte(owner))
	index := tx.Bucket([]byte(indexBucket)).Bucket([]byte(owner))
	if records == nil || index == nil {
		return nil, nil
	}
	key := index.Get([]byte(id))
	if key == nil || records.Get(key) == nil {
		return nil, nil
	}
	return records, key
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
