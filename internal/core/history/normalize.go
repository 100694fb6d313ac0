package history

import (
	"encoding/json"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shelfchain/v1/pkg/types"
)

// 借阅记录字段的 ABI 名称，下标即位置
var recordFields = [...]string{
	"borrowId",
	"borrower",
	"bookId",
	"borrowTime",
	"returnTime",
	"returned",
	"dueDate",
	"deposit",
}

const (
	fieldBorrowID = iota
	fieldBorrower
	fieldBookID
	fieldBorrowTime
	fieldReturnTime
	fieldReturned
	fieldDueDate
	fieldDeposit
)

// Normalize 将合约返回的原始记录转换为 BorrowRecord
//
// 支持三种形态：按位置排列的 []interface{}，ABI 解码出的 tuple 结构体，
// 以及按 ABI 名称或位置下标作为键的 map。bookId 缺失或为 0 时返回 false。
// 只有 6 个字段的旧记录 DueDate/Deposit 保持为 nil。
func Normalize(raw interface{}) (types.BorrowRecord, bool) {
	var rec types.BorrowRecord

	get := fieldGetter(raw)
	if get == nil {
		return rec, false
	}

	bookID, ok := toUint64(get(fieldBookID))
	if !ok || bookID == 0 {
		return rec, false
	}
	rec.BookID = bookID
	rec.BorrowID, _ = toUint64(get(fieldBorrowID))
	rec.Borrower = toAddress(get(fieldBorrower))
	rec.BorrowTime, _ = toUint64(get(fieldBorrowTime))
	rec.ReturnTime, _ = toUint64(get(fieldReturnTime))
	rec.Returned = toBool(get(fieldReturned))

	if v := get(fieldDueDate); v != nil {
		if due, ok := toUint64(v); ok {
			rec.DueDate = &due
		}
	}
	if v := get(fieldDeposit); v != nil {
		if dep, ok := toBig(v); ok {
			rec.Deposit = dep
		}
	}
	return rec, true
}

// fieldGetter 按原始形态返回字段读取函数，缺失的字段返回 nil
func fieldGetter(raw interface{}) func(int) interface{} {
	switch v := raw.(type) {
	case nil:
		return nil
	case []interface{}:
		return func(i int) interface{} {
			if i < len(v) {
				return v[i]
			}
			return nil
		}
	case map[string]interface{}:
		return func(i int) interface{} {
			if x, ok := v[recordFields[i]]; ok {
				return x
			}
			if x, ok := v[strings.ToLower(recordFields[i])]; ok {
				return x
			}
			return v[strconv.Itoa(i)]
		}
	}

	rv := reflect.ValueOf(raw)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	index := structIndex(rv.Type())
	return func(i int) interface{} {
		fi, ok := index[strings.ToLower(recordFields[i])]
		if !ok {
			return nil
		}
		return rv.Field(fi).Interface()
	}
}

// structIndex 以小写字段名和 json tag 建立索引
func structIndex(t reflect.Type) map[string]int {
	index := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		index[strings.ToLower(f.Name)] = i
		if tag := f.Tag.Get("json"); tag != "" {
			name := strings.Split(tag, ",")[0]
			if name != "" && name != "-" {
				index[strings.ToLower(name)] = i
			}
		}
	}
	return index
}

func toBig(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, false
		}
		return new(big.Int).Set(n), true
	case big.Int:
		return new(big.Int).Set(&n), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case int:
		if n < 0 {
			return nil, false
		}
		return big.NewInt(int64(n)), true
	case int64:
		if n < 0 {
			return nil, false
		}
		return big.NewInt(n), true
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return nil, false
		}
		return new(big.Int).SetUint64(uint64(n)), true
	case json.Number:
		return parseBig(n.String())
	case string:
		return parseBig(n)
	}
	return nil, false
}

func parseBig(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// toUint64 超出 uint64 的值视为无法解析，不截断
func toUint64(v interface{}) (uint64, bool) {
	n, ok := toBig(v)
	if !ok || !n.IsUint64() {
		return 0, false
	}
	return n.Uint64(), true
}

func toAddress(v interface{}) common.Address {
	switch a := v.(type) {
	case common.Address:
		return a
	case *common.Address:
		if a != nil {
			return *a
		}
	case string:
		if common.IsHexAddress(a) {
			return common.HexToAddress(a)
		}
	case []byte:
		return common.BytesToAddress(a)
	}
	return common.Address{}
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	}
	return false
}
