package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

// ErrWrongPassword 密码错误或文件被篡改
var ErrWrongPassword = errors.New("could not decrypt key with given password")

// 默认 PBKDF2 迭代次数
const defaultKDFIterations = 262144

// kdfIterations 新建 keystore 使用的迭代次数，测试中调低
var kdfIterations = defaultKDFIterations

// KeystoreV1 Keystore文件格式(v1.0.0)
type KeystoreV1 struct {
	Version string   `json:"version"` // "1.0.0"
	ID      string   `json:"id"`      // UUID
	Address string   `json:"address"` // 0x... 校验和格式
	Crypto  CryptoV1 `json:"crypto"`

	CreatedAt string `json:"created_at"`
	Label     string `json:"label,omitempty"`
	// Source 密钥来源：generated / imported / mnemonic
	Source string `json:"source,omitempty"`
	// Path 助记词导入时的派生路径
	Path string `json:"path,omitempty"`
}

// CryptoV1 加密参数
type CryptoV1 struct {
	Cipher       string       `json:"cipher"`     // "aes-256-gcm"
	Ciphertext   string       `json:"ciphertext"` // hex编码
	CipherParams CipherParams `json:"cipherparams"`
	KDF          string       `json:"kdf"` // "pbkdf2"
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"`
}

// CipherParams 密码参数
type CipherParams struct {
	IV string `json:"iv"`
}

// KDFParams 密钥派生参数
type KDFParams struct {
	DKLen int    `json:"dklen"`
	Salt  string `json:"salt"`
	C     int    `json:"c"`
	PRF   string `json:"prf"` // "hmac-sha256"
}

// AddressValue 返回 keystore 记录的地址
func (k *KeystoreV1) AddressValue() common.Address {
	return common.HexToAddress(k.Address)
}

// newKeystore 加密私钥生成 keystore
func newKeystore(key *ecdsa.PrivateKey, password, label, source, path string) (*KeystoreV1, error) {
	raw := crypto.FromECDSA(key)
	defer zeroBytes(raw)

	c, err := encrypt(raw, password)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return &KeystoreV1{
		Version:   "1.0.0",
		ID:        uuid.NewString(),
		Address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		Crypto:    c,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Label:     label,
		Source:    source,
		Path:      path,
	}, nil
}

// decryptKey 用密码解出私钥
func (k *KeystoreV1) decryptKey(password string) (*ecdsa.PrivateKey, error) {
	dk, err := deriveKey(password, k.Crypto)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	raw, err := decrypt(k.Crypto, dk)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(raw)

	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != k.AddressValue() {
		return nil, fmt.Errorf("keystore address mismatch for %s", k.Address)
	}
	return key, nil
}

// writeKeystore 保存为 UTC--<timestamp>--<address>
func writeKeystore(dir string, ks *KeystoreV1) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create keystore dir: %w", err)
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal keystore: %w", err)
	}
	filename := fmt.Sprintf("UTC--%s--%s",
		time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z"),
		strings.TrimPrefix(strings.ToLower(ks.Address), "0x"),
	)
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write keystore: %w", err)
	}
	return path, nil
}

func readKeystore(path string) (*KeystoreV1, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var ks KeystoreV1
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	if !common.IsHexAddress(ks.Address) {
		return nil, fmt.Errorf("keystore %s has invalid address %q", filepath.Base(path), ks.Address)
	}
	return &ks, nil
}

// ===== 加密/解密 =====

func deriveKey(password string, c CryptoV1) ([]byte, error) {
	salt, err := hex.DecodeString(c.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	switch c.KDF {
	case "pbkdf2":
		return pbkdf2.Key([]byte(password), salt, c.KDFParams.C, c.KDFParams.DKLen, sha256.New), nil
	default:
		return nil, fmt.Errorf("unsupported KDF: %s", c.KDF)
	}
}

func decrypt(c CryptoV1, key []byte) ([]byte, error) {
	ciphertext, err := hex.DecodeString(c.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	iv, err := hex.DecodeString(c.CipherParams.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("derived key too short")
	}

	// MAC 先于解密校验，密码错误时给出明确错误
	if c.MAC != "" {
		want, err := hex.DecodeString(c.MAC)
		if err != nil {
			return nil, fmt.Errorf("decode mac: %w", err)
		}
		got := computeMAC(key, ciphertext)
		if subtle.ConstantTimeCompare(want, got) != 1 {
			return nil, ErrWrongPassword
		}
	}

	switch c.Cipher {
	case "aes-256-gcm":
		block, err := aes.NewCipher(key[:32])
		if err != nil {
			return nil, fmt.Errorf("new cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("new gcm: %w", err)
		}
		plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
		if err != nil {
			return nil, ErrWrongPassword
		}
		return plaintext, nil
	default:
		return nil, fmt.Errorf("unsupported cipher: %s", c.Cipher)
	}
}

func encrypt(plaintext []byte, password string) (CryptoV1, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return CryptoV1{}, fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return CryptoV1{}, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return CryptoV1{}, fmt.Errorf("new gcm: %w", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return CryptoV1{}, fmt.Errorf("generate iv: %w", err)
	}
	ciphertext := gcm.Seal(nil, iv, plaintext, nil)

	return CryptoV1{
		Cipher:       "aes-256-gcm",
		Ciphertext:   hex.EncodeToString(ciphertext),
		CipherParams: CipherParams{IV: hex.EncodeToString(iv)},
		KDF:          "pbkdf2",
		KDFParams: KDFParams{
			DKLen: 32,
			Salt:  hex.EncodeToString(salt),
			C:     kdfIterations,
			PRF:   "hmac-sha256",
		},
		MAC: hex.EncodeToString(computeMAC(key, ciphertext)),
	}, nil
}

func computeMAC(key, ciphertext []byte) []byte {
	buf := make([]byte, 0, 16+len(ciphertext))
	buf = append(buf, key[16:32]...)
	buf = append(buf, ciphertext...)
	mac := sha256.Sum256(buf)
	return mac[:]
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// zeroKey 清除内存中的私钥
func zeroKey(key *ecdsa.PrivateKey) {
	if key != nil && key.D != nil {
		key.D.SetInt64(0)
	}
}
