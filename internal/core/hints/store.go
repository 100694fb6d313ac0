// Package hints 保存每个账户的当前借阅书籍 ID
//
// 这里的值只用于让界面先显示上次已知的借阅，随后总会以链上 getCurrentBorrow 为准
// 更新或删除，不能作为事实来源。断开连接时整体清空。
package hints

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shelfchain/v1/client/core/config"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
)

// DefaultKeyPrefix 默认键前缀
const DefaultKeyPrefix = "shelf:hint:"

// ErrClosed 存储已关闭
var ErrClosed = errors.New("hint store closed")

// Store 当前借阅提示存储
type Store interface {
	// Get 返回账户的提示值，不存在时 ok 为 false
	Get(ctx context.Context, account common.Address) (bookID uint64, ok bool, err error)
	Set(ctx context.Context, account common.Address, bookID uint64) error
	Delete(ctx context.Context, account common.Address) error
	// Clear 删除本前缀下的全部提示
	Clear(ctx context.Context) error
	Close() error
}

// Open 按 profile 配置打开存储
func Open(cfg config.HintStoreConfig, dataPath string, logger log.Logger) (Store, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	switch cfg.Backend {
	case "", "badger":
		return NewBadgerStore(filepath.Join(dataPath, "hints"), prefix, logger)
	case "redis":
		return NewRedisStore(RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB, KeyPrefix: prefix})
	}
	return nil, fmt.Errorf("unknown hint store backend %q", cfg.Backend)
}

// accountKey 账户地址统一为小写十六进制
func accountKey(prefix string, account common.Address) string {
	return prefix + strings.ToLower(account.Hex())
}

func encodeBookID(id uint64) []byte {
	return []byte(strconv.FormatUint(id, 10))
}

func decodeBookID(raw []byte) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hint value %q: %w", raw, err)
	}
	return id, nil
}
