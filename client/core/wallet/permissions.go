package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Grant 某来源对账户的授权
type Grant struct {
	Origin    string         `json:"origin"`
	Account   common.Address `json:"account"`
	GrantedAt time.Time      `json:"granted_at"`
}

// permissionStore 持久化在 permissions.json 的授权列表
type permissionStore struct {
	mu   sync.Mutex
	path string
}

func newPermissionStore(dataDir string) *permissionStore {
	return &permissionStore{path: filepath.Join(dataDir, "permissions.json")}
}

func (p *permissionStore) load() ([]Grant, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read permissions: %w", err)
	}
	var grants []Grant
	if err := json.Unmarshal(data, &grants); err != nil {
		return nil, fmt.Errorf("parse permissions: %w", err)
	}
	return grants, nil
}

func (p *permissionStore) save(grants []Grant) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(grants, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("write permissions: %w", err)
	}
	return nil
}

// Granted 来源是否已获得账户授权
func (p *permissionStore) Granted(origin string, account common.Address) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	grants, err := p.load()
	if err != nil {
		return false, err
	}
	for _, g := range grants {
		if strings.EqualFold(g.Origin, origin) && g.Account == account {
			return true, nil
		}
	}
	return false, nil
}

// Grant 记录授权
func (p *permissionStore) Grant(origin string, account common.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	grants, err := p.load()
	if err != nil {
		return err
	}
	for _, g := range grants {
		if strings.EqualFold(g.Origin, origin) && g.Account == account {
			return nil
		}
	}
	grants = append(grants, Grant{Origin: origin, Account: account, GrantedAt: time.Now().UTC()})
	return p.save(grants)
}

// Revoke 撤销来源的全部授权
func (p *permissionStore) Revoke(origin string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	grants, err := p.load()
	if err != nil {
		return err
	}
	kept := grants[:0]
	for _, g := range grants {
		if !strings.EqualFold(g.Origin, origin) {
			kept = append(kept, g)
		}
	}
	return p.save(kept)
}
