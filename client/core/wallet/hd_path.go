package wallet

import (
	"fmt"
	"strconv"
	"strings"
)

// BIP44 常量
const (
	BIP44Purpose     uint32 = 44
	EthereumCoinType uint32 = 60
	HardenedOffset   uint32 = 0x80000000
)

// DefaultPath 以太坊钱包通用的第一个地址 m/44'/60'/0'/0/0
const DefaultPath = "m/44'/60'/0'/0/0"

// DerivationPath BIP44 派生路径
type DerivationPath struct {
	Purpose      uint32 `json:"purpose"`
	CoinType     uint32 `json:"coin_type"`
	Account      uint32 `json:"account"`
	Change       uint32 `json:"change"` // 0=外部，1=内部
	AddressIndex uint32 `json:"address_index"`
}

// DefaultDerivationPath 返回 m/44'/60'/0'/0/0
func DefaultDerivationPath() *DerivationPath {
	return &DerivationPath{Purpose: BIP44Purpose, CoinType: EthereumCoinType}
}

// ParseDerivationPath 解析形如 m/44'/60'/0'/0/0 的路径
//
// 前三级必须硬化，change 只能是 0 或 1。
func ParseDerivationPath(path string) (*DerivationPath, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "m/")
	path = strings.TrimPrefix(path, "M/")

	parts := strings.Split(path, "/")
	if len(parts) != 5 {
		return nil, fmt.Errorf("invalid derivation path: expected 5 components, got %d", len(parts))
	}

	dp := &DerivationPath{}
	var err error
	if dp.Purpose, err = parsePathComponent(parts[0], true); err != nil {
		return nil, fmt.Errorf("invalid purpose: %w", err)
	}
	if dp.Purpose != BIP44Purpose {
		return nil, fmt.Errorf("invalid purpose: expected %d (BIP44), got %d", BIP44Purpose, dp.Purpose)
	}
	if dp.CoinType, err = parsePathComponent(parts[1], true); err != nil {
		return nil, fmt.Errorf("invalid coin type: %w", err)
	}
	if dp.Account, err = parsePathComponent(parts[2], true); err != nil {
		return nil, fmt.Errorf("invalid account: %w", err)
	}
	if dp.Change, err = parsePathComponent(parts[3], false); err != nil {
		return nil, fmt.Errorf("invalid change: %w", err)
	}
	if dp.Change > 1 {
		return nil, fmt.Errorf("invalid change: expected 0 or 1, got %d", dp.Change)
	}
	if dp.AddressIndex, err = parsePathComponent(parts[4], false); err != nil {
		return nil, fmt.Errorf("invalid address index: %w", err)
	}
	return dp, nil
}

func parsePathComponent(component string, requireHardened bool) (uint32, error) {
	hardened := strings.HasSuffix(component, "'") || strings.HasSuffix(component, "h") || strings.HasSuffix(component, "H")
	if requireHardened && !hardened {
		return 0, fmt.Errorf("hardened derivation required for %s", component)
	}
	if !requireHardened && hardened {
		return 0, fmt.Errorf("unexpected hardened component %s", component)
	}
	component = strings.TrimRight(component, "'hH")

	value, err := strconv.ParseUint(component, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", component)
	}
	return uint32(value), nil
}

func (dp *DerivationPath) String() string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", dp.Purpose, dp.CoinType, dp.Account, dp.Change, dp.AddressIndex)
}

// ToUint32Array 按派生顺序返回各级索引，硬化级已加偏移
func (dp *DerivationPath) ToUint32Array() []uint32 {
	return []uint32{
		dp.Purpose + HardenedOffset,
		dp.CoinType + HardenedOffset,
		dp.Account + HardenedOffset,
		dp.Change,
		dp.AddressIndex,
	}
}

// WithAddressIndex 返回替换地址索引后的副本
func (dp *DerivationPath) WithAddressIndex(index uint32) *DerivationPath {
	p := *dp
	p.AddressIndex = index
	return &p
}
