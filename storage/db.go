package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	ethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Database is the key-value store backing engine state. Implementations expose
// the trie database so the state trie and raw lookups share one backend.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close()
}

type kvDatabase struct {
	disk   ethdb.Database
	trieDB *triedb.Database
	closer func() error
}

func newKVDatabase(disk ethdb.Database, closer func() error) *kvDatabase {
	return &kvDatabase{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, nil),
		closer: closer,
	}
}

func (db *kvDatabase) Put(key []byte, value []byte) error {
	return db.disk.Put(key, value)
}

func (db *kvDatabase) Get(key []byte) ([]byte, error) {
	value, err := db.disk.Get(key)
	if err != nil {
		return nil, fmt.Errorf("storage: get %x: %w", key, err)
	}
	return value, nil
}

func (db *kvDatabase) Has(key []byte) (bool, error) {
	return db.disk.Has(key)
}

func (db *kvDatabase) TrieDB() *triedb.Database {
	return db.trieDB
}

func (db *kvDatabase) Close() {
	if db.trieDB != nil {
		_ = db.trieDB.Close()
	}
	if db.closer != nil {
		_ = db.closer()
	}
}

// --- In-Memory DB (for testing) ---

// MemDB is an ephemeral database. State is lost once the process exits.
type MemDB struct {
	*kvDatabase
}

// NewMemDB returns an empty in-memory database.
func NewMemDB() *MemDB {
	disk := rawdb.NewMemoryDatabase()
	return &MemDB{kvDatabase: newKVDatabase(disk, disk.Close)}
}

// --- Persistent DB ---

// LevelDBOptions tunes the on-disk store. Zero values use the goleveldb defaults.
type LevelDBOptions struct {
	CacheMB      int
	Handles      int
	WriteBuffMB  int
	NoSync       bool
	ReadOnlyMode bool
}

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	*kvDatabase
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	return NewLevelDBWithOptions(path, LevelDBOptions{})
}

// NewLevelDBWithOptions opens a LevelDB database applying the supplied tuning.
func NewLevelDBWithOptions(path string, opts LevelDBOptions) (*LevelDB, error) {
	kv, err := ethleveldb.NewCustom(path, "creditchain/withdrawald", func(o *opt.Options) {
		if opts.CacheMB > 0 {
			o.BlockCacheCapacity = opts.CacheMB * opt.MiB
		}
		if opts.Handles > 0 {
			o.OpenFilesCacheCapacity = opts.Handles
		}
		if opts.WriteBuffMB > 0 {
			o.WriteBuffer = opts.WriteBuffMB * opt.MiB
		}
		o.NoSync = opts.NoSync
		o.ReadOnly = opts.ReadOnlyMode
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb %s: %w", path, err)
	}
	disk := rawdb.NewDatabase(kv)
	return &LevelDB{kvDatabase: newKVDatabase(disk, disk.Close)}, nil
}
