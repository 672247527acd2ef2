// Package store persists each display's content assignment so it can be
// restored after a restart or reconnect.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"

	"github.com/1broseidon/backdrop/internal/media"
	"github.com/1broseidon/backdrop/internal/platform"
)

// DefaultRetention is how long a record stays trustworthy without being
// refreshed.
const DefaultRetention = 24 * time.Hour

var (
	ErrNotFound = errors.New("record not found")
	// ErrExpired is returned for a record older than the retention window.
	// The record is purged before the error is returned.
	ErrExpired = errors.New("record expired")
)

const keyPrefix = "display/"

const (
	fieldToken   = "token"
	fieldLocator = "locator"
	fieldKind    = "kind"
	fieldStretch = "stretch"
	fieldVolume  = "volume"
	fieldSavedAt = "saved_at"
)

// Record is the persisted assignment for one display.
type Record struct {
	Identity platform.Identity
	// Token re-grants access to the file across restarts.
	Token   []byte
	Locator string
	Kind    media.Kind
	Stretch bool
	Volume  *float64
	SavedAt time.Time
}

// Descriptor returns the content descriptor the record describes, using
// locator as the source.
func (r Record) Descriptor(locator string, kind media.Kind) media.Descriptor {
	d := media.Descriptor{Kind: kind, Locator: locator, Stretch: r.Stretch}
	if r.Volume != nil {
		d.Volume = media.Volume(*r.Volume)
	}
	return d
}

// Options configure a store.
type Options struct {
	// Path is the badger directory. Empty opens an in-memory store.
	Path      string
	Retention time.Duration
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Store is a badger-backed record store keyed by display identity.
type Store struct {
	db        *badger.DB
	retention time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
}

// Open opens or creates the store.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.Path == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{db: db, retention: opts.Retention, clock: opts.Clock, logger: opts.Logger}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration { return s.retention }

func key(id platform.Identity, field string) []byte {
	return []byte(keyPrefix + string(id) + "/" + field)
}

func prefix(id platform.Identity) []byte {
	return []byte(keyPrefix + string(id) + "/")
}

// Put replaces the record for rec.Identity and stamps it with the current
// time.
func (s *Store) Put(rec Record) error {
	if rec.Identity == "" {
		return fmt.Errorf("record identity is required")
	}
	now := s.clock.Now()
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, prefix(rec.Identity)); err != nil {
			return err
		}
		fields := map[string][]byte{
			fieldLocator: []byte(rec.Locator),
			fieldKind:    []byte(rec.Kind),
			fieldStretch: []byte(strconv.FormatBool(rec.Stretch)),
			fieldSavedAt: []byte(strconv.FormatInt(now.Unix(), 10)),
		}
		if len(rec.Token) > 0 {
			fields[fieldToken] = rec.Token
		}
		if rec.Volume != nil {
			fields[fieldVolume] = []byte(strconv.FormatFloat(*rec.Volume, 'f', -1, 64))
		}
		for field, val := range fields {
			if err := txn.Set(key(rec.Identity, field), val); err != nil {
				return fmt.Errorf("write %s: %w", field, err)
			}
		}
		return nil
	})
}

// Get returns the record for id. Expired records are purged and reported as
// ErrExpired.
func (s *Store) Get(id platform.Identity) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, id)
		return err
	})
	if err != nil {
		return Record{}, err
	}
	if s.expired(rec) {
		s.logger.Info("purging expired display record", "display", id, "saved_at", rec.SavedAt)
		if err := s.Delete(id); err != nil {
			return Record{}, err
		}
		return Record{}, ErrExpired
	}
	return rec, nil
}

// Touch refreshes the timestamp of an existing record.
func (s *Store) Touch(id platform.Identity) error {
	now := s.clock.Now()
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id, fieldSavedAt)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Set(key(id, fieldSavedAt), []byte(strconv.FormatInt(now.Unix(), 10)))
	})
}

// Delete removes every field of the record for id.
func (s *Store) Delete(id platform.Identity) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return deletePrefix(txn, prefix(id))
	})
}

// List returns every unexpired record. Expired records found along the way
// are purged.
func (s *Store) List() ([]Record, error) {
	ids, err := s.identities()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, id := range ids {
		rec, err := s.Get(id)
		if errors.Is(err, ErrExpired) || errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// PurgeExpired deletes every record older than the retention window and
// returns how many were removed.
func (s *Store) PurgeExpired() (int, error) {
	ids, err := s.identities()
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, id := range ids {
		if _, err := s.Get(id); errors.Is(err, ErrExpired) {
			purged++
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return purged, err
		}
	}
	return purged, nil
}

func (s *Store) expired(rec Record) bool {
	return s.clock.Now().Sub(rec.SavedAt) > s.retention
}

func (s *Store) identities() ([]platform.Identity, error) {
	seen := make(map[platform.Identity]bool)
	var ids []platform.Identity
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			idx := strings.LastIndex(rest, "/")
			if idx <= 0 {
				continue
			}
			id := platform.Identity(rest[:idx])
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids, err
}

func readRecord(txn *badger.Txn, id platform.Identity) (Record, error) {
	rec := Record{Identity: id}
	found := false
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		field := strings.TrimPrefix(string(item.Key()), string(opts.Prefix))
		val, err := item.ValueCopy(nil)
		if err != nil {
			return Record{}, fmt.Errorf("read %s: %w", field, err)
		}
		found = true
		switch field {
		case fieldToken:
			rec.Token = val
		case fieldLocator:
			rec.Locator = string(val)
		case fieldKind:
			rec.Kind = media.Kind(val)
		case fieldStretch:
			rec.Stretch, _ = strconv.ParseBool(string(val))
		case fieldVolume:
			if v, err := strconv.ParseFloat(string(val), 64); err == nil {
				rec.Volume = &v
			}
		case fieldSavedAt:
			if secs, err := strconv.ParseInt(string(val), 10, 64); err == nil {
				rec.SavedAt = time.Unix(secs, 0)
			}
		}
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func deletePrefix(txn *badger.Txn, p []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = p
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
