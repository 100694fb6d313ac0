package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// MnemonicStrength 助记词熵强度（位）
type MnemonicStrength int

const (
	Mnemonic12Words MnemonicStrength = 128
	Mnemonic24Words MnemonicStrength = 256
)

// ErrInvalidMnemonic 助记词校验失败
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// GenerateMnemonic 生成新的 BIP39 助记词
func GenerateMnemonic(strength MnemonicStrength) (string, error) {
	switch strength {
	case Mnemonic12Words, Mnemonic24Words:
	default:
		return "", fmt.Errorf("invalid mnemonic strength: %d, must be 128 or 256", strength)
	}
	entropy := make([]byte, int(strength)/8)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic 合并多余空白并转为小写
func NormalizeMnemonic(mnemonic string) string {
	return strings.ToLower(strings.Join(strings.Fields(mnemonic), " "))
}

// ValidateMnemonic 校验词数、词表和校验和
func ValidateMnemonic(mnemonic string) error {
	mnemonic = NormalizeMnemonic(mnemonic)
	if mnemonic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMnemonic)
	}
	switch n := len(strings.Fields(mnemonic)); n {
	case 12, 15, 18, 21, 24:
	default:
		return fmt.Errorf("%w: word count %d, expected 12, 15, 18, 21 or 24", ErrInvalidMnemonic, n)
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("%w: checksum mismatch or unknown word", ErrInvalidMnemonic)
	}
	return nil
}

// DeriveKey 从助记词按 BIP44 路径派生私钥
func DeriveKey(mnemonic, passphrase, path string) (*ecdsa.PrivateKey, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultPath
	}
	dp, err := ParseDerivationPath(path)
	if err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(NormalizeMnemonic(mnemonic), passphrase)
	defer zeroBytes(seed)

	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	for _, index := range dp.ToUint32Array() {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", dp, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("extract private key: %w", err)
	}
	raw := priv.Serialize()
	defer zeroBytes(raw)
	return crypto.ToECDSA(raw)
}
