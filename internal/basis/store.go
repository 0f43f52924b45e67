package basis

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// ErrNotFound is returned for unknown basis names or when no basis is active.
var ErrNotFound = errors.New("basis not found")

const (
	metaPrefix = "meta/"
	vecPrefix  = "vec/"
	activeKey  = "active"
)

// #region types

// Entry describes a stored basis.
type Entry struct {
	Name      string    `json:"name"`
	Dimension int       `json:"dimension"`
	Count     int       `json:"count"`
	SavedAt   time.Time `json:"saved_at"`
}

// StoreOptions configures the badger-backed basis store.
type StoreOptions struct {
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

// Store keeps named schema bases in badger.
type Store struct {
	db *badger.DB
}

// #endregion types

// #region open

// OpenStore opens (or creates) the basis store.
func OpenStore(opts StoreOptions) (*Store, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("open basis store: empty directory")
		}
		if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create basis directory %s: %w", opts.Dir, err)
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}

	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger.Sugar()})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open basis store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion open

// #region read-write

// Save stores vectors under name, replacing any previous basis of that name.
func (s *Store) Save(name string, vectors [][]float32) (Entry, error) {
	if name == "" || strings.Contains(name, "/") {
		return Entry{}, fmt.Errorf("save basis: invalid name %q", name)
	}
	dim, err := dimension(vectors)
	if err != nil {
		return Entry{}, fmt.Errorf("save basis %s: %w", name, err)
	}

	entry := Entry{Name: name, Dimension: dim, Count: len(vectors), SavedAt: time.Now().UTC()}
	meta, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(metaPrefix+name), meta); err != nil {
			return err
		}
		return txn.Set([]byte(vecPrefix+name), encodeVectors(vectors, dim))
	})
	if err != nil {
		return Entry{}, fmt.Errorf("save basis %s: %w", name, err)
	}
	return entry, nil
}

// Load returns the vectors and metadata stored under name.
func (s *Store) Load(name string) ([][]float32, Entry, error) {
	var entry Entry
	var vectors [][]float32

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + name))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		item, err = txn.Get([]byte(vecPrefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vectors, err = decodeVectors(val, entry.Count, entry.Dimension)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, Entry{}, fmt.Errorf("load basis %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, Entry{}, fmt.Errorf("load basis %s: %w", name, err)
	}
	return vectors, entry, nil
}

// List returns every stored basis, sorted by name.
func (s *Store) List() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list bases: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes a basis. Deleting the active basis clears the active pointer.
func (s *Store) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + name)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(metaPrefix + name)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(vecPrefix + name)); err != nil {
			return err
		}
		item, err := txn.Get([]byte(activeKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		active, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(active) == name {
			return txn.Delete([]byte(activeKey))
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete basis %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete basis %s: %w", name, err)
	}
	return nil
}

// #endregion read-write

// #region active

// SetActive marks name as the basis the controller loads on start.
func (s *Store) SetActive(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + name)); err != nil {
			return err
		}
		return txn.Set([]byte(activeKey), []byte(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("use basis %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("use basis %s: %w", name, err)
	}
	return nil
}

// Active returns the name of the active basis.
func (s *Store) Active() (string, error) {
	var name string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(activeKey))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		name = string(val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("active basis: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("active basis: %w", err)
	}
	return name, nil
}

// LoadActive loads the active basis.
func (s *Store) LoadActive() ([][]float32, Entry, error) {
	name, err := s.Active()
	if err != nil {
		return nil, Entry{}, err
	}
	return s.Load(name)
}

// #endregion active

// #region vector-encoding
func encodeVectors(vectors [][]float32, dim int) []byte {
	buf := make([]byte, len(vectors)*dim*4)
	off := 0
	for _, v := range vectors {
		for _, f := range v {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
	}
	return buf
}

func decodeVectors(b []byte, count, dim int) ([][]float32, error) {
	if len(b) != count*dim*4 {
		return nil, fmt.Errorf("corrupt basis: %d bytes for %d x %d vectors", len(b), count, dim)
	}
	vectors := make([][]float32, count)
	off := 0
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
			off += 4
		}
		vectors[i] = v
	}
	return vectors, nil
}
// #endregion vector-encoding

// #region badger-logger

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(strings.TrimSpace(format), args...)
}

// #endregion badger-logger
