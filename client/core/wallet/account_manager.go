package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// 选中账户记录文件
const selectedFile = "selected"

// ErrAccountNotFound 账户不存在
var ErrAccountNotFound = errors.New("account not found")

// AccountInfo 账户信息
type AccountInfo struct {
	Address      common.Address `json:"address"`
	Label        string         `json:"label,omitempty"`
	Source       string         `json:"source,omitempty"`
	Path         string         `json:"path,omitempty"`
	KeystorePath string         `json:"keystore_path"`
	CreatedAt    time.Time      `json:"created_at"`
	Selected     bool           `json:"selected"`
}

// AccountManager 管理 keystore 目录中的账户
type AccountManager struct {
	keystoreDir string
}

// NewAccountManager 创建账户管理器
func NewAccountManager(keystoreDir string) (*AccountManager, error) {
	if err := os.MkdirAll(keystoreDir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &AccountManager{keystoreDir: keystoreDir}, nil
}

// Dir keystore 目录
func (am *AccountManager) Dir() string {
	return am.keystoreDir
}

// CreateAccount 生成新私钥并加密保存
func (am *AccountManager) CreateAccount(password, label string) (*AccountInfo, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	defer zeroKey(key)
	return am.store(key, password, label, "generated", "")
}

// ImportPrivateKey 导入十六进制私钥
func (am *AccountManager) ImportPrivateKey(privateKeyHex, password, label string) (*AccountInfo, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	defer zeroBytes(raw)
	if len(raw) != 32 {
		return nil, fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	defer zeroKey(key)
	return am.store(key, password, label, "imported", "")
}

// ImportMnemonic 从助记词派生并导入，path 为空时使用 m/44'/60'/0'/0/0
func (am *AccountManager) ImportMnemonic(mnemonic, passphrase, path, password, label string) (*AccountInfo, error) {
	if path == "" {
		path = DefaultPath
	}
	key, err := DeriveKey(mnemonic, passphrase, path)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)
	return am.store(key, password, label, "mnemonic", path)
}

func (am *AccountManager) store(key *ecdsa.PrivateKey, password, label, source, path string) (*AccountInfo, error) {
	if password == "" {
		return nil, errors.New("password cannot be empty")
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	if _, err := am.GetAccount(address); err == nil {
		return nil, fmt.Errorf("account already exists: %s", address.Hex())
	}

	existing, err := am.ListAccounts()
	if err != nil {
		return nil, err
	}

	ks, err := newKeystore(key, password, label, source, path)
	if err != nil {
		return nil, err
	}
	file, err := writeKeystore(am.keystoreDir, ks)
	if err != nil {
		return nil, fmt.Errorf("save keystore: %w", err)
	}

	// 第一个账户自动选中
	if len(existing) == 0 {
		if err := am.SelectAccount(address); err != nil {
			return nil, err
		}
	}
	return am.loadInfo(file)
}

// ListAccounts 按创建时间列出账户
func (am *AccountManager) ListAccounts() ([]*AccountInfo, error) {
	entries, err := os.ReadDir(am.keystoreDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}

	var accounts []*AccountInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "UTC--") {
			continue
		}
		info, err := am.loadInfo(filepath.Join(am.keystoreDir, entry.Name()))
		if err != nil {
			// 损坏的文件不影响其他账户
			continue
		}
		accounts = append(accounts, info)
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		return accounts[i].KeystorePath < accounts[j].KeystorePath
	})
	return accounts, nil
}

// GetAccount 查找账户
func (am *AccountManager) GetAccount(address common.Address) (*AccountInfo, error) {
	accounts, err := am.ListAccounts()
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Address == address {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address.Hex())
}

// Unlock 解密账户私钥
func (am *AccountManager) Unlock(address common.Address, password string) (*KeySigner, error) {
	info, err := am.GetAccount(address)
	if err != nil {
		return nil, err
	}
	ks, err := readKeystore(info.KeystorePath)
	if err != nil {
		return nil, err
	}
	key, err := ks.decryptKey(password)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(key), nil
}

// ExportPrivateKey 导出十六进制私钥
func (am *AccountManager) ExportPrivateKey(address common.Address, password string) (string, error) {
	signer, err := am.Unlock(address, password)
	if err != nil {
		return "", err
	}
	defer signer.Lock()
	return hex.EncodeToString(crypto.FromECDSA(signer.key)), nil
}

// DeleteAccount 删除 keystore 文件，删除选中账户时清除选择
func (am *AccountManager) DeleteAccount(address common.Address) error {
	info, err := am.GetAccount(address)
	if err != nil {
		return err
	}
	if err := os.Remove(info.KeystorePath); err != nil {
		return fmt.Errorf("delete keystore: %w", err)
	}
	if info.Selected {
		if err := os.Remove(filepath.Join(am.keystoreDir, selectedFile)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clear selection: %w", err)
		}
	}
	return nil
}

// SelectAccount 设为当前账户
func (am *AccountManager) SelectAccount(address common.Address) error {
	if _, err := am.GetAccount(address); err != nil {
		return err
	}
	path := filepath.Join(am.keystoreDir, selectedFile)
	if err := os.WriteFile(path, []byte(address.Hex()), 0600); err != nil {
		return fmt.Errorf("save selected account: %w", err)
	}
	return nil
}

// Selected 当前账户，未选择时退回第一个账户
func (am *AccountManager) Selected() (common.Address, bool) {
	if data, err := os.ReadFile(filepath.Join(am.keystoreDir, selectedFile)); err == nil {
		s := strings.TrimSpace(string(data))
		if common.IsHexAddress(s) {
			addr := common.HexToAddress(s)
			if _, err := am.GetAccount(addr); err == nil {
				return addr, true
			}
		}
	}
	accounts, err := am.ListAccounts()
	if err != nil || len(accounts) == 0 {
		return common.Address{}, false
	}
	return accounts[0].Address, true
}

func (am *AccountManager) loadInfo(file string) (*AccountInfo, error) {
	ks, err := readKeystore(file)
	if err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(time.RFC3339, ks.CreatedAt)
	info := &AccountInfo{
		Address:      ks.AddressValue(),
		Label:        ks.Label,
		Source:       ks.Source,
		Path:         ks.Path,
		KeystorePath: file,
		CreatedAt:    createdAt,
	}
	if data, err := os.ReadFile(filepath.Join(am.keystoreDir, selectedFile)); err == nil {
		info.Selected = common.HexToAddress(strings.TrimSpace(string(data))) == info.Address
	}
	return info, nil
}
