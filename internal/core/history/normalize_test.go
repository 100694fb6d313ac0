package history

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

// 与 ABI 解码器生成的匿名结构体字段一致
type abiRecord struct {
	BorrowId   *big.Int       `json:"borrowId"`
	Borrower   common.Address `json:"borrower"`
	BookId     *big.Int       `json:"bookId"`
	BorrowTime *big.Int       `json:"borrowTime"`
	ReturnTime *big.Int       `json:"returnTime"`
	Returned   bool           `json:"returned"`
	DueDate    *big.Int       `json:"dueDate"`
	Deposit    *big.Int       `json:"deposit"`
}

type abiLegacyRecord struct {
	BorrowId   *big.Int       `json:"borrowId"`
	Borrower   common.Address `json:"borrower"`
	BookId     *big.Int       `json:"bookId"`
	BorrowTime *big.Int       `json:"borrowTime"`
	ReturnTime *big.Int       `json:"returnTime"`
	Returned   bool           `json:"returned"`
}

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name       string
		raw        interface{}
		wantLegacy bool
	}{
		{
			name: "positional modern",
			raw: []interface{}{big.NewInt(7), alice, big.NewInt(3), big.NewInt(100),
				big.NewInt(0), false, big.NewInt(700), big.NewInt(5)},
		},
		{
			name:       "positional legacy",
			raw:        []interface{}{big.NewInt(7), alice, big.NewInt(3), big.NewInt(100), big.NewInt(0), false},
			wantLegacy: true,
		},
		{
			name: "tuple struct",
			raw: abiRecord{big.NewInt(7), alice, big.NewInt(3), big.NewInt(100),
				big.NewInt(0), false, big.NewInt(700), big.NewInt(5)},
		},
		{
			name:       "legacy tuple struct pointer",
			raw:        &abiLegacyRecord{big.NewInt(7), alice, big.NewInt(3), big.NewInt(100), big.NewInt(0), false},
			wantLegacy: true,
		},
		{
			name: "named map",
			raw: map[string]interface{}{
				"borrowId": "7", "borrower": alice.Hex(), "bookId": json.Number("3"),
				"borrowTime": float64(100), "returnTime": 0, "returned": false,
				"dueDate": "0x2bc", "deposit": "5",
			},
		},
		{
			name: "positional map",
			raw: map[string]interface{}{
				"0": big.NewInt(7), "1": alice, "2": big.NewInt(3), "3": big.NewInt(100),
				"4": big.NewInt(0), "5": false,
			},
			wantLegacy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := Normalize(tt.raw)
			require.True(t, ok)
			assert.Equal(t, uint64(7), rec.BorrowID)
			assert.Equal(t, alice, rec.Borrower)
			assert.Equal(t, uint64(3), rec.BookID)
			assert.Equal(t, uint64(100), rec.BorrowTime)
			assert.False(t, rec.Returned)
			assert.Equal(t, tt.wantLegacy, rec.Legacy())
			if !tt.wantLegacy {
				assert.Equal(t, uint64(700), rec.DueDateOrZero())
				assert.Equal(t, int64(5), rec.DepositOrZero().Int64())
			}
		})
	}
}

func TestNormalize_DropsMissingBook(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
	}{
		{"nil", nil},
		{"zero book id", []interface{}{big.NewInt(1), alice, big.NewInt(0), big.NewInt(1), big.NewInt(0), false}},
		{"short positional", []interface{}{big.NewInt(1), alice}},
		{"map without book", map[string]interface{}{"borrowId": 1}},
		{"not a record", 42},
		{"nil pointer", (*abiRecord)(nil)},
		{"negative book", map[string]interface{}{"bookId": -1}},
		{"book beyond uint64", []interface{}{big.NewInt(1), alice, overUint64(), big.NewInt(1), big.NewInt(0), false}},
		{"decimal book beyond uint64", map[string]interface{}{"bookId": "18446744073709551616"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Normalize(tt.raw)
			assert.False(t, ok)
		})
	}
}

// overUint64 返回 2^64
func overUint64() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 64)
}

func TestNormalize_OversizedFieldsNotTruncated(t *testing.T) {
	rec, ok := Normalize([]interface{}{
		overUint64(), alice, big.NewInt(7), overUint64(), big.NewInt(0), false, overUint64(), big.NewInt(5),
	})
	require.True(t, ok)
	assert.Equal(t, uint64(7), rec.BookID)
	assert.Zero(t, rec.BorrowID)
	assert.Zero(t, rec.BorrowTime)
	assert.Nil(t, rec.DueDate, "oversized due date must not become max uint64")
	require.NotNil(t, rec.Deposit)
	assert.Equal(t, int64(5), rec.Deposit.Int64())
}
