package contract_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfchain/v1/client/core/contract"
	"github.com/shelfchain/v1/client/core/contract/contracttest"
	"github.com/shelfchain/v1/pkg/types"
)

const testChainID = 11155111

var contractAddr = common.HexToAddress("0x190f3557ae406b7720B77e8aa4E4E7B27E3a3727")

func newGateway(t *testing.T) (*contract.Gateway, *contracttest.FakeLibrary, *contracttest.KeySigner) {
	t.Helper()
	admin := contracttest.NewKeySigner()
	fake := contracttest.NewFakeLibrary(testChainID, admin.Address())
	gw := contract.NewGateway(fake, contract.Config{
		Address:     contractAddr,
		ReceiptPoll: 5 * time.Millisecond,
	})
	return gw, fake, admin
}

func TestGateway_ReadWrappers(t *testing.T) {
	gw, fake, admin := newGateway(t)
	ctx := context.Background()
	user := contracttest.NewKeySigner()

	fake.SeedBook("cid-1", 0)
	fake.SeedBook("cid-2", 3)
	fake.SeedMember(user.Address(), "alice")
	fake.SetCurrentBorrow(user.Address(), 2)

	got, err := gw.Admin(ctx)
	require.NoError(t, err)
	assert.Equal(t, admin.Address(), got)

	ids, err := gw.AllBookIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	b, err := gw.GetBook(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, &types.Book{ID: 2, ContentID: "cid-2", Stock: 3, TotalCopies: 3}, b)

	member, err := gw.IsMember(ctx, user.Address())
	require.NoError(t, err)
	assert.True(t, member)

	m, err := gw.GetMember(ctx, user.Address())
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Name)
	assert.True(t, m.IsRegistered)

	current, err := gw.CurrentBorrow(ctx, user.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), current)

	stats, err := gw.LibraryStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &types.LibraryStats{TotalBooks: 2, TotalMembers: 1, TotalBorrows: 0, ActiveLoans: 1}, stats)

	deposit, err := gw.DepositPerMinute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, deposit.Cmp(big.NewInt(1_000_000_000_000)))
}

func TestGateway_ReadErrors(t *testing.T) {
	gw, fake, _ := newGateway(t)
	ctx := context.Background()

	_, err := gw.Call(ctx, "burnBook")
	var readErr *contract.ContractReadError
	require.ErrorAs(t, err, &readErr)
	assert.ErrorIs(t, err, contract.ErrMethodNotFound)

	_, err = gw.GetBook(ctx, 9)
	require.ErrorAs(t, err, &readErr)
	assert.True(t, readErr.Reverted())
	assert.Equal(t, "Book does not exist", readErr.Reason)

	fake.Fail(contract.MethodAdmin, errors.New("connection refused"))
	_, err = gw.Admin(ctx)
	require.ErrorAs(t, err, &readErr)
	assert.False(t, readErr.Reverted())
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGateway_SendLifecycle(t *testing.T) {
	gw, fake, admin := newGateway(t)
	ctx := context.Background()
	user := contracttest.NewKeySigner()

	rcpt, err := gw.AddBook(ctx, admin, "cid-new", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rcpt.Status)

	_, err = gw.RegisterMember(ctx, user, "bob")
	require.NoError(t, err)

	deposit, err := gw.DepositPerMinute(ctx)
	require.NoError(t, err)
	_, err = gw.BorrowBook(ctx, user, 1, deposit)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fake.Stock(1))

	_, err = gw.ReturnBook(ctx, user, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fake.Stock(1))

	records := fake.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Returned)

	members, err := gw.MemberRegistrations(ctx, nil)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, user.Address(), members[0].Address)
	assert.Equal(t, "bob", members[0].Name)
}

func TestGateway_SendRevertReason(t *testing.T) {
	gw, _, _ := newGateway(t)
	ctx := context.Background()
	stranger := contracttest.NewKeySigner()

	_, err := gw.AddBook(ctx, stranger, "cid", 1)
	var writeErr *contract.ContractWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "Only admin can perform this action", writeErr.Reason)
	assert.Equal(t, common.Hash{}, writeErr.TxHash)

	_, err = gw.Send(ctx, contract.MethodAddBook, contract.SendOpts{}, "cid", big.NewInt(1))
	assert.ErrorIs(t, err, contract.ErrNoSigner)
}

func TestGateway_MinedButFailed(t *testing.T) {
	gw, fake, admin := newGateway(t)
	fake.RevertOnMine(contract.MethodAddBook, "Paused")

	rcpt, err := gw.AddBook(context.Background(), admin, "cid", 1)
	var writeErr *contract.ContractWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, contract.ErrTxFailed)
	assert.Equal(t, "Paused", writeErr.Reason)
	require.NotNil(t, rcpt)
	assert.Equal(t, uint64(0), rcpt.Status)
	assert.Equal(t, rcpt.TxHash, writeErr.TxHash)
}

func TestGateway_HistoryShapes(t *testing.T) {
	gw, fake, _ := newGateway(t)
	legacy := contract.NewLegacyGateway(fake, contract.Config{Address: contractAddr})
	ctx := context.Background()
	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	fake.SeedRecord(contracttest.Record{Borrower: user, BookID: 1, BorrowTime: 10, DueDate: 20, Deposit: big.NewInt(5)})
	fake.SeedRecord(contracttest.Record{Borrower: user, BookID: 2, BorrowTime: 30})

	modern, err := gw.AllBorrowHistory(ctx)
	require.NoError(t, err)
	assert.Len(t, modern, 2)

	one, err := gw.BorrowHistoryAt(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 8)

	fake.Legacy = true

	_, err = gw.MemberBorrowHistory(ctx, user)
	var readErr *contract.ContractReadError
	require.ErrorAs(t, err, &readErr, "8-field decode of 6-field data must fail")

	old, err := legacy.MemberBorrowHistory(ctx, user)
	require.NoError(t, err)
	assert.Len(t, old, 2)

	single, err := legacy.BorrowHistoryAt(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, single, 6)

	_, err = gw.BorrowHistoryAt(ctx, 2)
	assert.Error(t, err)
}

func TestRevertReason(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
		ok     bool
	}{
		{"nil", nil, "", false},
		{"data error", &contracttest.RevertError{Reason: "You already have an active borrow"}, "You already have an active borrow", true},
		{"bare revert", &contracttest.RevertError{}, "", true},
		{"message only", errors.New("execution reverted: Book not available"), "Book not available", true},
		{"network", errors.New("dial tcp: refused"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := contract.RevertReason(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}
