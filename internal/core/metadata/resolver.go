// Package metadata 从内容网关解析书籍元数据
//
// 元数据按内容 ID 寻址，内容不可变，成功取回的文档会缓存在 BigCache 中。
// 取回失败不会向上传播：Resolve 总是返回可展示的结果，失败时使用占位名称。
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"

	logmod "github.com/shelfchain/v1/internal/core/infrastructure/log"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/pkg/interfaces/infrastructure/log"
	"github.com/shelfchain/v1/pkg/types"
)

const (
	// DefaultTimeout 单次元数据请求超时
	DefaultTimeout = 5 * time.Second

	ipfsScheme = "ipfs://"
	// 元数据文档上限，超出视为无效
	maxDocumentSize = 1 << 20
)

// Document 内容网关返回的元数据文档
type Document struct {
	Name        string      `json:"name"`
	Author      string      `json:"author"`
	Description string      `json:"description,omitempty"`
	PDF         string      `json:"pdf,omitempty"`
	Image       string      `json:"image,omitempty"`
	Attributes  []Attribute `json:"attributes,omitempty"`
}

// Attribute NFT 风格的元数据属性
type Attribute struct {
	TraitType string      `json:"trait_type"`
	Value     interface{} `json:"value"`
}

// Placeholder 元数据不可用时的占位文档
func Placeholder() *Document {
	return &Document{Name: types.PlaceholderName, Author: types.PlaceholderAuthor}
}

// MetadataFetchError 元数据获取失败
type MetadataFetchError struct {
	ContentID string
	Status    int
	Err       error
}

func (e *MetadataFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch metadata %s: http status %d", e.ContentID, e.Status)
	}
	return fmt.Sprintf("fetch metadata %s: %v", e.ContentID, e.Err)
}

func (e *MetadataFetchError) Unwrap() error {
	return e.Err
}

// Config 解析器配置
type Config struct {
	Gateway       string
	Timeout       time.Duration
	DocumentLinks []string
	// CacheLife 缓存条目生命周期，0 使用默认 1 小时
	CacheLife  time.Duration
	HTTPClient *http.Client
	Logger     log.Logger
	Metrics    *metrics.Collectors
}

// Resolver 元数据解析器
type Resolver struct {
	gateway string
	timeout time.Duration
	links   []string
	client  *http.Client
	cache   *bigcache.BigCache
	logger  log.Logger
	metrics *metrics.Collectors
}

// NewResolver 创建解析器
func NewResolver(cfg Config) (*Resolver, error) {
	if strings.TrimSpace(cfg.Gateway) == "" {
		return nil, errors.New("content gateway is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheLife <= 0 {
		cfg.CacheLife = time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	cacheCfg := bigcache.DefaultConfig(cfg.CacheLife)
	cacheCfg.Shards = 16
	cacheCfg.MaxEntriesInWindow = 1024
	cacheCfg.MaxEntrySize = 1024
	cacheCfg.Verbose = false
	cache, err := bigcache.New(context.Background(), cacheCfg)
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}

	return &Resolver{
		gateway: normalizeGateway(cfg.Gateway),
		timeout: cfg.Timeout,
		links:   append([]string(nil), cfg.DocumentLinks...),
		client:  cfg.HTTPClient,
		cache:   cache,
		logger:  logmod.NewModuleLogger(cfg.Logger, "metadata"),
		metrics: cfg.Metrics,
	}, nil
}

// Close 释放缓存
func (r *Resolver) Close() error {
	return r.cache.Close()
}

// Gateway 返回规范化后的网关前缀（以 / 结尾）
func (r *Resolver) Gateway() string {
	return r.gateway
}

// Fetch 获取元数据文档，失败返回 *MetadataFetchError
func (r *Resolver) Fetch(ctx context.Context, contentID string) (*Document, error) {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return nil, &MetadataFetchError{ContentID: contentID, Err: errors.New("empty content id")}
	}

	if raw, err := r.cache.Get(contentID); err == nil {
		var doc Document
		if json.Unmarshal(raw, &doc) == nil {
			r.metrics.IncMetadata("cached")
			return &doc, nil
		}
	}

	doc, raw, err := r.fetchRemote(ctx, contentID)
	if err != nil {
		r.metrics.IncMetadata("error")
		return nil, err
	}
	r.metrics.IncMetadata("ok")

	if err := r.cache.Set(contentID, raw); err != nil {
		r.logger.Debugf("缓存元数据失败 cid=%s: %v", contentID, err)
	}
	return doc, nil
}

func (r *Resolver) fetchRemote(ctx context.Context, contentID string) (*Document, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.gateway+contentID, nil)
	if err != nil {
		return nil, nil, &MetadataFetchError{ContentID: contentID, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, &MetadataFetchError{ContentID: contentID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &MetadataFetchError{ContentID: contentID, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, nil, &MetadataFetchError{ContentID: contentID, Err: err}
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, &MetadataFetchError{ContentID: contentID, Err: fmt.Errorf("decode: %w", err)}
	}
	return &doc, raw, nil
}

// Resolve 获取元数据，失败时记录日志并返回占位文档
//
// 第二个返回值表示是否为占位结果。
func (r *Resolver) Resolve(ctx context.Context, contentID string) (*Document, bool) {
	doc, err := r.Fetch(ctx, contentID)
	if err != nil {
		r.logger.Warnf("元数据不可用，使用占位值: %v", err)
		return Placeholder(), true
	}
	if doc.Name == "" {
		doc.Name = types.PlaceholderName
	}
	if doc.Author == "" {
		doc.Author = types.PlaceholderAuthor
	}
	return doc, false
}

// Enrich 为书籍填充名称、作者和文档地址
func (r *Resolver) Enrich(ctx context.Context, book *types.Book) {
	if book == nil {
		return
	}
	doc, placeholder := r.Resolve(ctx, book.ContentID)
	book.Name = doc.Name
	book.Author = doc.Author
	book.MetadataPlaceholder = placeholder
	book.DocumentURL = r.documentURL(book, doc)
}

// DocumentURL 解析书籍 PDF 地址
//
// 顺序：document_links[id-1]，元数据中的 pdf 字段，最后退回网关上的内容 ID。
func (r *Resolver) DocumentURL(ctx context.Context, book *types.Book) string {
	if book == nil {
		return ""
	}
	if link := r.linkFor(book.ID); link != "" {
		return link
	}
	doc, err := r.Fetch(ctx, book.ContentID)
	if err != nil {
		doc = nil
	}
	return r.documentURL(book, doc)
}

func (r *Resolver) documentURL(book *types.Book, doc *Document) string {
	if link := r.linkFor(book.ID); link != "" {
		return link
	}
	if doc != nil && doc.PDF != "" {
		if strings.HasPrefix(doc.PDF, ipfsScheme) {
			return r.gateway + strings.TrimPrefix(doc.PDF, ipfsScheme)
		}
		return doc.PDF
	}
	if book.ContentID == "" {
		return ""
	}
	return r.gateway + book.ContentID
}

func (r *Resolver) linkFor(id uint64) string {
	if id == 0 || id > uint64(len(r.links)) {
		return ""
	}
	return r.links[id-1]
}

// OpenDocument 打开书籍文档流，调用方负责关闭
//
// 只受 ctx 约束，不套用元数据超时。
func (r *Resolver) OpenDocument(ctx context.Context, book *types.Book) (io.ReadCloser, string, error) {
	url := book.DocumentURL
	if url == "" {
		url = r.DocumentURL(ctx, book)
	}
	if url == "" {
		return nil, "", fmt.Errorf("book %d has no document", book.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, url, fmt.Errorf("build document request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, url, fmt.Errorf("open document: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, url, fmt.Errorf("open document: http status %d", resp.StatusCode)
	}
	return resp.Body, url, nil
}

func normalizeGateway(gw string) string {
	gw = strings.TrimSpace(gw)
	if !strings.HasSuffix(gw, "/") {
		gw += "/"
	}
	return gw
}
