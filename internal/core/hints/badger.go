package hints

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/ethereum/go-ethereum/common"

	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// BadgerStore 基于 BadgerDB 的本地提示存储
type BadgerStore struct {
	db     *badgerdb.DB
	prefix string
	logger log.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore 打开目录下的数据库，dir 为空时使用内存模式
func NewBadgerStore(dir, prefix string, logger log.Logger) (*BadgerStore, error) {
	logger = logmod.NewModuleLogger(logger, "hints")

	var opts badgerdb.Options
	if dir == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create hint store dir: %w", err)
		}
		opts = badgerdb.DefaultOptions(dir)
	}
	// 数据量很小，压低缓存和 value log 的占用
	opts.BlockCacheSize = 4 << 20
	opts.IndexCacheSize = 2 << 20
	opts.MemTableSize = 8 << 20
	opts.ValueThreshold = 1 << 10
	opts.ValueLogFileSize = 16 << 20
	opts.NumMemtables = 2
	opts.NumCompactors = 2
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open hint store: %w", err)
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &BadgerStore{db: db, prefix: prefix, logger: logger}, nil
}

func (s *BadgerStore) Get(ctx context.Context, account common.Address) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, ErrClosed
	}

	var raw []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(accountKey(s.prefix, account)))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read hint: %w", err)
	}
	id, err := decodeBookID(raw)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *BadgerStore) Set(ctx context.Context, account common.Address, bookID uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(accountKey(s.prefix, account)), encodeBookID(bookID))
	})
}

func (s *BadgerStore) Delete(ctx context.Context, account common.Address) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(accountKey(s.prefix, account)))
	})
}

// Clear 删除前缀下的全部键
func (s *BadgerStore) Clear(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.db.DropPrefix([]byte(s.prefix)); err != nil {
		return fmt.Errorf("clear hints: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerLogger 将 Badger 日志转到模块 logger
type badgerLogger struct {
	logger log.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf("[BadgerDB] "+format, args...)
}
