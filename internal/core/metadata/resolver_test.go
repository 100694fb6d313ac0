package metadata

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfchain/v1/pkg/types"
)

func newGatewayServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		switch r.URL.Path {
		case "/ipfs/cid-ok":
			_, _ = w.Write([]byte(`{"name":"Dune","author":"Frank Herbert","pdf":"ipfs://pdf-cid"}`))
		case "/ipfs/cid-noauthor":
			_, _ = w.Write([]byte(`{"name":"Anonymous Work"}`))
		case "/ipfs/cid-bad":
			_, _ = w.Write([]byte(`not json`))
		case "/ipfs/cid-slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"name":"Slow"}`))
		case "/ipfs/pdf-cid":
			_, _ = w.Write([]byte("%PDF-1.4"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestResolver(t *testing.T, gateway string, links ...string) *Resolver {
	t.Helper()
	r, err := NewResolver(Config{Gateway: gateway, Timeout: 50 * time.Millisecond, DocumentLinks: links})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestResolver_FetchAndCache(t *testing.T) {
	var hits int32
	srv := newGatewayServer(t, &hits)
	r := newTestResolver(t, srv.URL+"/ipfs")

	doc, err := r.Fetch(context.Background(), "cid-ok")
	require.NoError(t, err)
	assert.Equal(t, "Dune", doc.Name)
	assert.Equal(t, "Frank Herbert", doc.Author)

	_, err = r.Fetch(context.Background(), "cid-ok")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second fetch should come from cache")
}

func TestResolver_FetchErrors(t *testing.T) {
	srv := newGatewayServer(t, nil)
	r := newTestResolver(t, srv.URL+"/ipfs/")

	tests := []struct {
		name   string
		cid    string
		status int
	}{
		{"not found", "missing", http.StatusNotFound},
		{"bad json", "cid-bad", 0},
		{"timeout", "cid-slow", 0},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Fetch(context.Background(), tt.cid)
			var fe *MetadataFetchError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.status, fe.Status)
		})
	}
}

func TestResolver_ResolvePlaceholder(t *testing.T) {
	srv := newGatewayServer(t, nil)
	r := newTestResolver(t, srv.URL+"/ipfs/")

	doc, placeholder := r.Resolve(context.Background(), "missing")
	assert.True(t, placeholder)
	assert.Equal(t, types.PlaceholderName, doc.Name)
	assert.Equal(t, types.PlaceholderAuthor, doc.Author)

	doc, placeholder = r.Resolve(context.Background(), "cid-noauthor")
	assert.False(t, placeholder)
	assert.Equal(t, "Anonymous Work", doc.Name)
	assert.Equal(t, types.PlaceholderAuthor, doc.Author)
}

func TestResolver_DocumentURL(t *testing.T) {
	srv := newGatewayServer(t, nil)
	gw := srv.URL + "/ipfs/"
	r := newTestResolver(t, gw, "https://links.example/book-1.pdf")
	ctx := context.Background()

	// 配置的链接优先
	assert.Equal(t, "https://links.example/book-1.pdf",
		r.DocumentURL(ctx, &types.Book{ID: 1, ContentID: "cid-ok"}))
	// 元数据 pdf 字段，ipfs:// 改写到网关
	assert.Equal(t, gw+"pdf-cid", r.DocumentURL(ctx, &types.Book{ID: 2, ContentID: "cid-ok"}))
	// 退回内容 ID
	assert.Equal(t, gw+"missing", r.DocumentURL(ctx, &types.Book{ID: 3, ContentID: "missing"}))
	assert.Equal(t, "", r.DocumentURL(ctx, nil))
}

func TestResolver_EnrichAndOpen(t *testing.T) {
	srv := newGatewayServer(t, nil)
	gw := srv.URL + "/ipfs/"
	r := newTestResolver(t, gw)
	ctx := context.Background()

	book := &types.Book{ID: 4, ContentID: "cid-ok", Stock: 1}
	r.Enrich(ctx, book)
	assert.Equal(t, "Dune", book.Name)
	assert.False(t, book.MetadataPlaceholder)
	assert.Equal(t, gw+"pdf-cid", book.DocumentURL)

	body, url, err := r.OpenDocument(ctx, book)
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, gw+"pdf-cid", url)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	missing := &types.Book{ID: 5, ContentID: "missing"}
	r.Enrich(ctx, missing)
	assert.True(t, missing.MetadataPlaceholder)
	_, _, err = r.OpenDocument(ctx, missing)
	assert.Error(t, err)
}

func TestNewResolver_RequiresGateway(t *testing.T) {
	_, err := NewResolver(Config{})
	assert.Error(t, err)
}
