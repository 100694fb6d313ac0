// Package config provides profile management functionality for client configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	logconfig "github.com/shelfchain/v1/internal/config/log"
)

// 预置网络
const (
	SepoliaChainID uint64 = 11155111
	GanacheChainID uint64 = 1337

	DefaultContractAddress = "0x190f3557ae406b7720B77e8aa4E4E7B27E3a3727"
	DefaultContentGateway  = "https://gray-brilliant-beaver-208.mypinata.cloud/ipfs/"
)

// 预置的书籍元数据 CID（管理员添加书籍时的快捷选项）
var defaultMetadataCIDs = []string{
	"bafkreihk3n4tqlu7czesfjvf5w55rtt7xp6ewdrwmu2dqcfeputoxankkq",
	"bafkreiekqdhdlrak5ky3ufi7wwb6r6uqklueppvhzrfy25bxjskrvropmi",
	"bafkreihrlag77vqh6y4dh3lbb2n3namibvv45zpccgtg6dgonwvyznoxhq",
	"bafkreicet65l74wqf57fmsg7bbcfsocqhyghd5iqhgb64kzg6atdgl5k4i",
	"bafkreid7ivm5mtjipzvsqpv6olswxfm5mwwvg6cm5xvwv6bmk2biwyoqc4",
}

// 按书籍 ID 顺序排列的 PDF 链接，document_links[id-1]
var defaultDocumentLinks = []string{
	DefaultContentGateway + "bafybeid7osiljcacm56t3jsaw5kyji76pgjd2jhtm6s5kbjxa7jx7xdrre",
	DefaultContentGateway + "bafybeibtlwb7lyfq3gkrgxm7nh2v2ik5glafxz5gq3vqi6sd6qbvycnvka",
	DefaultContentGateway + "bafybeicfdocwpce4fpn2hja4fzysrlv7t4xmlg33msyjxyaq3ohfvvpehm",
	DefaultContentGateway + "bafybeiho52aljt2i7d3vbml43c43rgk57tz3ooovicqgvlmnlvrs6w5w3u",
	DefaultContentGateway + "bafybeighralvs7hs7rtzazqshcdma35erarvqcqnkylk3t36kaxwfrfvry",
}

// Profile CLI配置Profile
type Profile struct {
	Name    string `json:"name"`     // Profile名称: sepolia/local
	ChainID uint64 `json:"chain_id"` // 期望的链ID，连接时校验

	// 节点端点(按优先级排序)
	Endpoints []EndpointConfig `json:"endpoints"`

	// 合约与内容网关
	ContractAddress string   `json:"contract_address"`
	ContentGateway  string   `json:"content_gateway"`
	DocumentLinks   []string `json:"document_links,omitempty"`
	MetadataCIDs    []string `json:"metadata_cids,omitempty"`

	// 本地路径
	KeystorePath string `json:"keystore_path"` // Keystore目录
	DataPath     string `json:"data_path"`     // 数据目录（提示缓存、授权记录）

	// 网络配置
	Timeout           Duration `json:"timeout"`             // 单次 RPC 超时
	MetadataTimeout   Duration `json:"metadata_timeout"`    // 内容网关请求超时
	ReceiptTimeout    Duration `json:"receipt_timeout"`     // 等待交易上链
	ChainPollInterval Duration `json:"chain_poll_interval"` // 链 ID 轮询间隔

	HintStore HintStoreConfig       `json:"hint_store"`
	API       APIConfig             `json:"api"`
	Log       *logconfig.LogOptions `json:"log,omitempty"`
}

// EndpointConfig 端点配置
type EndpointConfig struct {
	Name     string `json:"name"`     // 端点名称
	Priority int    `json:"priority"` // 优先级(数字越小越优先)

	JSONRPC string `json:"jsonrpc,omitempty"` // JSON-RPC地址
	WS      string `json:"ws,omitempty"`      // WebSocket地址
}

// URL 返回端点的拨号地址，优先 JSON-RPC
func (e EndpointConfig) URL() string {
	if e.JSONRPC != "" {
		return e.JSONRPC
	}
	return e.WS
}

// HintStoreConfig 当前借阅提示缓存
type HintStoreConfig struct {
	Backend   string `json:"backend"` // badger | redis
	RedisAddr string `json:"redis_addr,omitempty"`
	RedisDB   int    `json:"redis_db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// APIConfig 本地网关
type APIConfig struct {
	Listen string `json:"listen"`
}

// Duration 时间duration(支持JSON序列化)
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(dur)
	return nil
}

// Std 转换为 time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Contract 返回合约地址
func (p *Profile) Contract() common.Address {
	return common.HexToAddress(p.ContractAddress)
}

// SortedEndpoints 按优先级返回端点副本
func (p *Profile) SortedEndpoints() []EndpointConfig {
	eps := make([]EndpointConfig, len(p.Endpoints))
	copy(eps, p.Endpoints)
	sort.SliceStable(eps, func(i, j int) bool {
		return eps[i].Priority < eps[j].Priority
	})
	return eps
}

// Validate 检查 profile 是否可用
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.ChainID == 0 {
		return fmt.Errorf("profile %s: chain_id is required", p.Name)
	}
	if len(p.Endpoints) == 0 {
		return fmt.Errorf("profile %s: at least one endpoint is required", p.Name)
	}
	for _, ep := range p.Endpoints {
		if ep.URL() == "" {
			return fmt.Errorf("profile %s: endpoint %s has no url", p.Name, ep.Name)
		}
	}
	if !common.IsHexAddress(p.ContractAddress) {
		return fmt.Errorf("profile %s: invalid contract_address %q", p.Name, p.ContractAddress)
	}
	switch p.HintStore.Backend {
	case "", "badger", "redis":
	default:
		return fmt.Errorf("profile %s: unknown hint_store backend %q", p.Name, p.HintStore.Backend)
	}
	if p.HintStore.Backend == "redis" && p.HintStore.RedisAddr == "" {
		return fmt.Errorf("profile %s: hint_store.redis_addr is required for redis backend", p.Name)
	}
	return nil
}

// applyDefaults 填充默认值
func (p *Profile) applyDefaults(configDir string) {
	if p.KeystorePath == "" {
		p.KeystorePath = filepath.Join(configDir, "keystores", p.Name)
	}
	if p.DataPath == "" {
		p.DataPath = filepath.Join(configDir, "data", p.Name)
	}
	if p.ContractAddress == "" {
		p.ContractAddress = DefaultContractAddress
	}
	if p.ContentGateway == "" {
		p.ContentGateway = DefaultContentGateway
	}
	if !strings.HasSuffix(p.ContentGateway, "/") {
		p.ContentGateway += "/"
	}
	if p.Timeout == 0 {
		p.Timeout = Duration(30 * time.Second)
	}
	if p.MetadataTimeout == 0 {
		p.MetadataTimeout = Duration(5 * time.Second)
	}
	if p.ReceiptTimeout == 0 {
		p.ReceiptTimeout = Duration(3 * time.Minute)
	}
	if p.ChainPollInterval == 0 {
		p.ChainPollInterval = Duration(4 * time.Second)
	}
	if p.HintStore.Backend == "" {
		p.HintStore.Backend = "badger"
	}
	if p.HintStore.KeyPrefix == "" {
		p.HintStore.KeyPrefix = "shelf:hint:"
	}
	if p.API.Listen == "" {
		p.API.Listen = "127.0.0.1:8645"
	}
}

// ProfileManager Profile管理器
type ProfileManager struct {
	configDir      string
	currentProfile string
	profiles       map[string]*Profile
}

// NewProfileManager 创建Profile管理器
func NewProfileManager(configDir string) (*ProfileManager, error) {
	if configDir == "" {
		// 默认配置目录: ~/.shelf
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		configDir = filepath.Join(homeDir, ".shelf")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	pm := &ProfileManager{
		configDir: configDir,
		profiles:  make(map[string]*Profile),
	}

	if err := pm.loadProfiles(); err != nil {
		return nil, err
	}

	if err := pm.loadCurrentProfile(); err != nil {
		pm.currentProfile = "sepolia"
	}

	return pm, nil
}

// ConfigDir 返回配置目录
func (pm *ProfileManager) ConfigDir() string {
	return pm.configDir
}

// loadProfiles 加载所有profiles
func (pm *ProfileManager) loadProfiles() error {
	profilesDir := filepath.Join(pm.configDir, "profiles")

	// 如果profiles目录不存在,创建默认profiles
	if _, err := os.Stat(profilesDir); os.IsNotExist(err) {
		if err := os.MkdirAll(profilesDir, 0700); err != nil {
			return fmt.Errorf("create profiles dir: %w", err)
		}
		if err := pm.createDefaultProfiles(); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		return fmt.Errorf("read profiles dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		profile, err := pm.loadProfile(filepath.Join(profilesDir, entry.Name()))
		if err != nil {
			// 记录错误但继续
			fmt.Fprintf(os.Stderr, "Warning: failed to load profile %s: %v\n", entry.Name(), err)
			continue
		}

		pm.profiles[profile.Name] = profile
	}

	return nil
}

// loadProfile 加载单个profile
func (pm *ProfileManager) loadProfile(filePath string) (*Profile, error) {
	//nolint:gosec // G304: filePath 来自配置目录
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	profile.applyDefaults(pm.configDir)

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// loadCurrentProfile 加载当前profile
func (pm *ProfileManager) loadCurrentProfile() error {
	//nolint:gosec // G304: 配置目录内的固定文件
	data, err := os.ReadFile(filepath.Join(pm.configDir, "current"))
	if err != nil {
		return err
	}

	pm.currentProfile = strings.TrimSpace(string(data))
	return nil
}

// saveCurrentProfile 保存当前profile
func (pm *ProfileManager) saveCurrentProfile() error {
	return os.WriteFile(filepath.Join(pm.configDir, "current"), []byte(pm.currentProfile), 0600)
}

// DefaultProfiles 返回内置 profiles
func DefaultProfiles() []*Profile {
	return []*Profile{
		{
			Name:    "sepolia",
			ChainID: SepoliaChainID,
			Endpoints: []EndpointConfig{
				{Name: "publicnode", Priority: 1, JSONRPC: "https://ethereum-sepolia-rpc.publicnode.com"},
				{Name: "sepolia-org", Priority: 2, JSONRPC: "https://rpc.sepolia.org"},
			},
			ContractAddress: DefaultContractAddress,
			ContentGateway:  DefaultContentGateway,
			DocumentLinks:   append([]string(nil), defaultDocumentLinks...),
			MetadataCIDs:    append([]string(nil), defaultMetadataCIDs...),
		},
		{
			Name:    "local",
			ChainID: GanacheChainID,
			Endpoints: []EndpointConfig{
				{Name: "ganache", Priority: 1, JSONRPC: "http://127.0.0.1:7545", WS: "ws://127.0.0.1:7545"},
			},
			ContractAddress: DefaultContractAddress,
			ContentGateway:  DefaultContentGateway,
			DocumentLinks:   append([]string(nil), defaultDocumentLinks...),
			MetadataCIDs:    append([]string(nil), defaultMetadataCIDs...),
			Timeout:         Duration(10 * time.Second),
		},
	}
}

// createDefaultProfiles 创建默认profiles
func (pm *ProfileManager) createDefaultProfiles() error {
	for _, profile := range DefaultProfiles() {
		if err := pm.SaveProfile(profile); err != nil {
			return err
		}
	}

	pm.currentProfile = "sepolia"
	return pm.saveCurrentProfile()
}

// GetProfile 获取指定profile
func (pm *ProfileManager) GetProfile(name string) (*Profile, error) {
	profile, exists := pm.profiles[name]
	if !exists {
		return nil, fmt.Errorf("profile not found: %s", name)
	}
	return profile, nil
}

// GetCurrentProfile 获取当前profile
func (pm *ProfileManager) GetCurrentProfile() (*Profile, error) {
	return pm.GetProfile(pm.currentProfile)
}

// CurrentName 当前profile名称
func (pm *ProfileManager) CurrentName() string {
	return pm.currentProfile
}

// ListProfiles 列出所有profiles（按名称排序）
func (pm *ProfileManager) ListProfiles() []string {
	names := make([]string, 0, len(pm.profiles))
	for name := range pm.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SaveProfile 保存profile
func (pm *ProfileManager) SaveProfile(profile *Profile) error {
	profile.applyDefaults(pm.configDir)
	if err := profile.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	profilePath := filepath.Join(pm.configDir, "profiles", profile.Name+".json")
	if err := os.WriteFile(profilePath, data, 0600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}

	pm.profiles[profile.Name] = profile
	return nil
}

// SwitchProfile 切换profile
func (pm *ProfileManager) SwitchProfile(name string) error {
	if _, exists := pm.profiles[name]; !exists {
		return fmt.Errorf("profile not found: %s", name)
	}

	pm.currentProfile = name
	return pm.saveCurrentProfile()
}

// DeleteProfile 删除profile
func (pm *ProfileManager) DeleteProfile(name string) error {
	if name == pm.currentProfile {
		return fmt.Errorf("cannot delete current profile")
	}

	profilePath := filepath.Join(pm.configDir, "profiles", name+".json")
	if err := os.Remove(profilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile file: %w", err)
	}

	delete(pm.profiles, name)
	return nil
}
