// Package wallet 提供本地钱包：加密 keystore、账户管理、交易签名，
// 以及面向会话层的钱包提供者（授权、账户切换、链切换事件）。
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/shelfchain/v1/client/core/contract"
)

// ErrSignerLocked 签名器已锁定
var ErrSignerLocked = errors.New("signer is locked")

// KeySigner 持有已解锁私钥的交易签名器
type KeySigner struct {
	mu      sync.RWMutex
	address common.Address
	key     *ecdsa.PrivateKey
}

var _ contract.TxSigner = (*KeySigner)(nil)

// NewKeySigner 包装私钥
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{address: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

// Address 签名地址
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx 按 EIP-155 签名
func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.key == nil {
		return nil, ErrSignerLocked
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// Lock 清除内存中的私钥，之后签名返回 ErrSignerLocked
func (s *KeySigner) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	zeroKey(s.key)
	s.key = nil
}

// IsLocked 是否已锁定
func (s *KeySigner) IsLocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key == nil
}
