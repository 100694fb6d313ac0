package history

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/contract/contracttest"
	"github.com/shelfchain/v1/internal/core/infrastructure/metrics"
	"github.com/shelfchain/v1/pkg/types"
)

var (
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	admin = common.HexToAddress("0x00000000000000000000000000000000000ad317")

	errBulk = errors.New("bulk read failed")
)

// ===== 测试桩 =====

type stubSource struct {
	mu sync.Mutex

	all      []interface{}
	allErr   error
	member   map[common.Address][]interface{}
	memErr   error
	at       map[uint64]interface{}
	count    uint64
	countErr error

	calls map[string]int
}

func newStubSource() *stubSource {
	return &stubSource{
		member: make(map[common.Address][]interface{}),
		at:     make(map[uint64]interface{}),
		calls:  make(map[string]int),
	}
}

func (s *stubSource) hit(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
}

func (s *stubSource) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubSource) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *stubSource) AllBorrowHistory(ctx context.Context) ([]interface{}, error) {
	s.hit("all")
	return s.all, s.allErr
}

func (s *stubSource) MemberBorrowHistory(ctx context.Context, m common.Address) ([]interface{}, error) {
	s.hit("member")
	return s.member[m], s.memErr
}

func (s *stubSource) BorrowHistoryAt(ctx context.Context, i uint64) (interface{}, error) {
	s.hit("at")
	item, ok := s.at[i]
	if !ok {
		return nil, fmt.Errorf("index %d: decode failed", i)
	}
	return item, nil
}

func (s *stubSource) BorrowCount(ctx context.Context) (uint64, error) {
	s.hit("count")
	return s.count, s.countErr
}

type stubBooks struct {
	missing map[uint64]bool
}

func (b stubBooks) GetBook(ctx context.Context, id uint64) (*types.Book, error) {
	if b.missing[id] {
		return nil, &contract.ContractReadError{Method: "getBook", Err: contract.ErrBookNotFound}
	}
	return &types.Book{ID: id, ContentID: fmt.Sprintf("cid-%d", id), Stock: 1, TotalCopies: 1}, nil
}

// stubMeta 偶数 ID 的元数据不可用
type stubMeta struct{}

func (stubMeta) Enrich(ctx context.Context, b *types.Book) {
	if b.ID%2 == 0 {
		b.Name, b.Author, b.MetadataPlaceholder = types.PlaceholderName, types.PlaceholderAuthor, true
		return
	}
	b.Name, b.Author = fmt.Sprintf("Book %d", b.ID), "Author"
}

func row(id uint64, who common.Address, bookID, borrowTime uint64) []interface{} {
	return []interface{}{
		new(big.Int).SetUint64(id), who, new(big.Int).SetUint64(bookID),
		new(big.Int).SetUint64(borrowTime), big.NewInt(0), false,
		big.NewInt(0), big.NewInt(0),
	}
}

func legacyRow(id uint64, who common.Address, bookID, borrowTime uint64) []interface{} {
	return row(id, who, bookID, borrowTime)[:6]
}

func newStubReconciler(modern, legacy *stubSource) *Reconciler {
	cfg := Config{Modern: modern, Books: stubBooks{}, Metadata: stubMeta{}}
	if legacy != nil {
		cfg.Legacy = legacy
	}
	return NewReconciler(cfg)
}

// ===== 层级选择 =====

func TestReconciler_ModernBulkShortCircuits(t *testing.T) {
	modern, legacy := newStubSource(), newStubSource()
	modern.all = []interface{}{row(1, alice, 1, 10), row(2, bob, 2, 30), row(3, alice, 0, 50)}

	res, err := newStubReconciler(modern, legacy).All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TierModern, res.Tier)
	assert.Equal(t, 0, legacy.Total(), "legacy must not be touched")
	assert.Equal(t, 0, modern.Calls("count"))
	assert.Equal(t, 0, modern.Calls("at"))

	require.Len(t, res.Records, 2)
	assert.Equal(t, uint64(2), res.Records[0].BorrowID)
	assert.Equal(t, uint64(1), res.Records[1].BorrowID)
	assert.Equal(t, "Book 1", res.Records[1].Book.Name)
	assert.True(t, res.Records[0].Book.MetadataPlaceholder)
	assert.Equal(t, types.PlaceholderName, res.Records[0].Book.Name)
}

func TestReconciler_LegacyFallback(t *testing.T) {
	modern, legacy := newStubSource(), newStubSource()
	modern.allErr = errBulk
	legacy.all = []interface{}{legacyRow(1, alice, 1, 10), legacyRow(2, bob, 3, 20)}

	res, err := newStubReconciler(modern, legacy).All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TierLegacy, res.Tier)
	assert.Equal(t, 0, modern.Calls("count"))

	// 与只读旧格式的结果一致
	legacyOnly := NewReconciler(Config{Modern: legacy, Books: stubBooks{}, Metadata: stubMeta{}})
	want, err := legacyOnly.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want.Records, res.Records)
	for _, rec := range res.Records {
		assert.True(t, rec.Legacy())
	}
}

// 会员历史两种批量读取都失败，borrowCount 为 2，只有一条属于该会员
func TestReconciler_MemberScanFiltersBorrower(t *testing.T) {
	modern, legacy := newStubSource(), newStubSource()
	modern.memErr = errBulk
	legacy.memErr = errBulk
	modern.count = 2
	modern.at[1] = row(1, bob, 1, 10)
	// 第二条只能用旧格式读出
	legacy.at[2] = legacyRow(2, alice, 3, 20)

	res, err := newStubReconciler(modern, legacy).ForMember(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, TierScan, res.Tier)
	require.Len(t, res.Records, 1)
	assert.Equal(t, alice, res.Records[0].Borrower)
	assert.Equal(t, uint64(3), res.Records[0].BookID)
	assert.True(t, res.Records[0].Legacy())
}

func TestReconciler_ScanSkipsUnreadableIndex(t *testing.T) {
	modern, legacy := newStubSource(), newStubSource()
	modern.allErr, legacy.allErr = errBulk, errBulk
	modern.count = 3
	modern.at[1] = row(1, alice, 1, 10)
	modern.at[3] = row(3, bob, 1, 30)

	res, err := newStubReconciler(modern, legacy).All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TierScan, res.Tier)
	assert.Len(t, res.Records, 2)
}

func TestReconciler_Unavailable(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m, l *stubSource)
	}{
		{"count fails", func(m, l *stubSource) { m.countErr = errors.New("count reverted") }},
		{"every index fails", func(m, l *stubSource) { m.count = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modern, legacy := newStubSource(), newStubSource()
			modern.allErr, legacy.allErr = errBulk, errBulk
			tt.setup(modern, legacy)

			mc := metrics.New()
			r := NewReconciler(Config{Modern: modern, Legacy: legacy, Books: stubBooks{}, Metrics: mc})
			_, err := r.All(context.Background())

			var he *HistoryUnavailableError
			require.True(t, errors.As(err, &he))
			assert.Equal(t, ScopeAll, he.Scope)
		})
	}
}

func TestReconciler_EmptyScanIsNotAnError(t *testing.T) {
	modern, legacy := newStubSource(), newStubSource()
	modern.allErr, legacy.allErr = errBulk, errBulk

	res, err := newStubReconciler(modern, legacy).All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TierScan, res.Tier)
	assert.Empty(t, res.Records)
}

func TestReconciler_GetBookFailureDropsRecord(t *testing.T) {
	modern := newStubSource()
	modern.all = []interface{}{row(1, alice, 1, 10), row(2, alice, 9, 20), row(3, alice, 1, 30)}

	r := NewReconciler(Config{Modern: modern, Books: stubBooks{missing: map[uint64]bool{9: true}}})
	res, err := r.All(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	for _, rec := range res.Records {
		assert.Equal(t, uint64(1), rec.BookID)
	}
}

func TestReconciler_CancelledContext(t *testing.T) {
	modern := newStubSource()
	modern.allErr = context.Canceled
	modern.count = 1
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReconciler(Config{Modern: modern, Books: stubBooks{}}).All(ctx)
	assert.Error(t, err)
}

// ===== 基于合约模拟的端到端层级 =====

func newFakeReconciler(fake *contracttest.FakeLibrary) *Reconciler {
	cfg := contract.Config{Address: common.HexToAddress("0x190f3557ae406b7720B77e8aa4E4E7B27E3a3727")}
	gw := contract.NewGateway(fake, cfg)
	return NewReconciler(Config{
		Modern: gw,
		Legacy: contract.NewLegacyGateway(fake, cfg),
		Books:  gw,
	})
}

func TestReconciler_AgainstLegacyDeployment(t *testing.T) {
	fake := contracttest.NewFakeLibrary(11155111, admin)
	fake.Legacy = true
	fake.SeedBook("cid-a", 1)
	fake.SeedRecord(contracttest.Record{Borrower: alice, BookID: 1, BorrowTime: 100})
	fake.SeedRecord(contracttest.Record{Borrower: bob, BookID: 1, BorrowTime: 200})

	res, err := newFakeReconciler(fake).ForMember(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, TierLegacy, res.Tier)
	require.Len(t, res.Records, 1)
	assert.Nil(t, res.Records[0].DueDate)
	assert.Nil(t, res.Records[0].Deposit)
	assert.Equal(t, "cid-a", res.Records[0].Book.ContentID)
}

// ===== 性质测试 =====

type genRecord struct {
	Borrower   common.Address
	BookID     uint64
	BorrowTime uint64
}

func drawRecords(t *rapid.T) []genRecord {
	borrowers := []common.Address{alice, bob}
	return rapid.SliceOfN(rapid.Custom(func(t *rapid.T) genRecord {
		return genRecord{
			Borrower:   rapid.SampledFrom(borrowers).Draw(t, "who"),
			BookID:     rapid.Uint64Range(0, 4).Draw(t, "book"),
			BorrowTime: rapid.Uint64Range(0, 50).Draw(t, "time"),
		}
	}), 0, 20).Draw(t, "records")
}

func TestReconciler_PropertyOrderingAndFiltering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		recs := drawRecords(t)
		modern := newStubSource()
		for i, r := range recs {
			modern.all = append(modern.all, row(uint64(i+1), r.Borrower, r.BookID, r.BorrowTime))
		}

		res, err := newStubReconciler(modern, nil).All(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := 0
		for _, r := range recs {
			if r.BookID != 0 {
				want++
			}
		}
		if len(res.Records) != want {
			t.Fatalf("got %d records, want %d", len(res.Records), want)
		}
		if !sort.SliceIsSorted(res.Records, func(i, j int) bool {
			return res.Records[i].BorrowTime > res.Records[j].BorrowTime
		}) {
			t.Fatalf("records not sorted by borrow time descending")
		}
		for i, rec := range res.Records {
			if rec.BookID == 0 {
				t.Fatalf("record with book id 0 kept")
			}
			// 相同时间保持合约顺序
			if i > 0 && rec.BorrowTime == res.Records[i-1].BorrowTime && rec.BorrowID < res.Records[i-1].BorrowID {
				t.Fatalf("unstable order at %d", i)
			}
		}
	})
}

func TestReconciler_PropertyScanMatchesBulk(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		recs := drawRecords(t)
		member := rapid.SampledFrom([]common.Address{alice, bob}).Draw(t, "member")

		fake := contracttest.NewFakeLibrary(11155111, admin)
		for i := 0; i < 4; i++ {
			fake.SeedBook(fmt.Sprintf("cid-%d", i+1), 1)
		}
		for _, r := range recs {
			fake.SeedRecord(contracttest.Record{
				Borrower: r.Borrower, BookID: r.BookID, BorrowTime: r.BorrowTime,
				DueDate: r.BorrowTime + 7*24*3600, Deposit: big.NewInt(int64(r.BorrowTime)),
			})
		}
		rec := newFakeReconciler(fake)
		ctx := context.Background()

		bulkAll, err := rec.All(ctx)
		if err != nil {
			t.Fatalf("bulk all: %v", err)
		}
		bulkMember, err := rec.ForMember(ctx, member)
		if err != nil {
			t.Fatalf("bulk member: %v", err)
		}

		// 同一选择器，新旧两种批量读取同时失败
		fake.Fail(contract.MethodGetAllBorrowHistory, errBulk)
		fake.Fail(contract.MethodGetMemberBorrowHistory, errBulk)

		scanAll, err := rec.All(ctx)
		if err != nil {
			t.Fatalf("scan all: %v", err)
		}
		scanMember, err := rec.ForMember(ctx, member)
		if err != nil {
			t.Fatalf("scan member: %v", err)
		}

		if bulkAll.Tier != TierModern || scanAll.Tier != TierScan || scanMember.Tier != TierScan {
			t.Fatalf("unexpected tiers %s/%s/%s", bulkAll.Tier, scanAll.Tier, scanMember.Tier)
		}
		assert.Equal(t, bulkAll.Records, scanAll.Records)
		assert.Equal(t, bulkMember.Records, scanMember.Records)
	})
}
