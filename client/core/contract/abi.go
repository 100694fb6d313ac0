package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// LibraryABI 当前部署的图书馆合约接口
const LibraryABI = `[
 {"type":"function","name":"admin","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"DEPOSIT_PER_MINUTE","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"isMember","stateMutability":"view",
  "inputs":[{"name":"_member","type":"address"}],
  "outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getMember","stateMutability":"view",
  "inputs":[{"name":"_member","type":"address"}],
  "outputs":[{"name":"","type":"tuple","components":[
    {"name":"name","type":"string"},
    {"name":"isRegistered","type":"bool"},
    {"name":"registeredAt","type":"uint256"}]}]},
 {"type":"function","name":"registerMember","stateMutability":"nonpayable",
  "inputs":[{"name":"_name","type":"string"}],"outputs":[]},
 {"type":"function","name":"addBook","stateMutability":"nonpayable",
  "inputs":[{"name":"_ipfsHash","type":"string"},{"name":"_stock","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"getAllBookIds","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"getBook","stateMutability":"view",
  "inputs":[{"name":"_bookId","type":"uint256"}],
  "outputs":[{"name":"","type":"tuple","components":[
    {"name":"id","type":"uint256"},
    {"name":"ipfsHash","type":"string"},
    {"name":"stock","type":"uint256"},
    {"name":"totalCopies","type":"uint256"}]}]},
 {"type":"function","name":"borrowBook","stateMutability":"payable",
  "inputs":[{"name":"_bookId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"returnBook","stateMutability":"nonpayable",
  "inputs":[{"name":"_bookId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"getCurrentBorrow","stateMutability":"view",
  "inputs":[{"name":"_member","type":"address"}],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getLibraryStats","stateMutability":"view","inputs":[],
  "outputs":[
    {"name":"totalBooks","type":"uint256"},
    {"name":"totalMembers","type":"uint256"},
    {"name":"totalBorrows","type":"uint256"},
    {"name":"activeLoans","type":"uint256"}]},
 {"type":"function","name":"borrowCount","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"borrowHistory","stateMutability":"view",
  "inputs":[{"name":"","type":"uint256"}],
  "outputs":[
    {"name":"borrowId","type":"uint256"},
    {"name":"borrower","type":"address"},
    {"name":"bookId","type":"uint256"},
    {"name":"borrowTime","type":"uint256"},
    {"name":"returnTime","type":"uint256"},
    {"name":"returned","type":"bool"},
    {"name":"dueDate","type":"uint256"},
    {"name":"deposit","type":"uint256"}]},
 {"type":"function","name":"getAllBorrowHistory","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"tuple[]","components":[
    {"name":"borrowId","type":"uint256"},
    {"name":"borrower","type":"address"},
    {"name":"bookId","type":"uint256"},
    {"name":"borrowTime","type":"uint256"},
    {"name":"returnTime","type":"uint256"},
    {"name":"returned","type":"bool"},
    {"name":"dueDate","type":"uint256"},
    {"name":"deposit","type":"uint256"}]}]},
 {"type":"function","name":"getMemberBorrowHistory","stateMutability":"view",
  "inputs":[{"name":"_memberAddress","type":"address"}],
  "outputs":[{"name":"","type":"tuple[]","components":[
    {"name":"borrowId","type":"uint256"},
    {"name":"borrower","type":"address"},
    {"name":"bookId","type":"uint256"},
    {"name":"borrowTime","type":"uint256"},
    {"name":"returnTime","type":"uint256"},
    {"name":"returned","type":"bool"},
    {"name":"dueDate","type":"uint256"},
    {"name":"deposit","type":"uint256"}]}]},
 {"type":"event","name":"MemberRegistered","anonymous":false,"inputs":[
    {"name":"memberAddress","type":"address","indexed":true},
    {"name":"name","type":"string","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]}
]`

// LegacyLibraryABI 早期部署的借阅记录接口，记录不含 dueDate/deposit
const LegacyLibraryABI = `[
 {"type":"function","name":"borrowHistory","stateMutability":"view",
  "inputs":[{"name":"","type":"uint256"}],
  "outputs":[
    {"name":"borrowId","type":"uint256"},
    {"name":"borrower","type":"address"},
    {"name":"bookId","type":"uint256"},
    {"name":"borrowTime","type":"uint256"},
    {"name":"returnTime","type":"uint256"},
    {"name":"returned","type":"bool"}]},
 {"type":"function","name":"getAllBorrowHistory","stateMutability":"view","inputs":[],
  "outputs":[{"name":"","type":"tuple[]","components":[
    {"name":"borrowId","type":"uint256"},
    {"name":"borrower","type":"address"},
    {"name":"bookId","type":"uint256"},
    {"name":"borrowTime","type":"uint256"},
    {"name":"returnTime","type":"uint256"},
    {"name":"returned","type":"bool"}]}]},
 {"type":"function","name":"getMemberBorrowHistory","stateMutability":"view",
  "inputs":[{"name":"_memberAddress","type":"address"}],
  "outputs":[{"name":"","type":"tuple[]","components":[
    {"name":"borrowId","type":"uint256"},
    {"name":"borrower","type":"address"},
    {"name":"bookId","type":"uint256"},
    {"name":"borrowTime","type":"uint256"},
    {"name":"returnTime","type":"uint256"},
    {"name":"returned","type":"bool"}]}]}
]`

// 合约方法名
const (
	MethodAdmin                  = "admin"
	MethodDepositPerMinute       = "DEPOSIT_PER_MINUTE"
	MethodIsMember               = "isMember"
	MethodGetMember              = "getMember"
	MethodRegisterMember         = "registerMember"
	MethodAddBook                = "addBook"
	MethodGetAllBookIds          = "getAllBookIds"
	MethodGetBook                = "getBook"
	MethodBorrowBook             = "borrowBook"
	MethodReturnBook             = "returnBook"
	MethodGetCurrentBorrow       = "getCurrentBorrow"
	MethodGetLibraryStats        = "getLibraryStats"
	MethodBorrowCount            = "borrowCount"
	MethodBorrowHistory          = "borrowHistory"
	MethodGetAllBorrowHistory    = "getAllBorrowHistory"
	MethodGetMemberBorrowHistory = "getMemberBorrowHistory"

	EventMemberRegistered = "MemberRegistered"
)

var (
	parsedLibrary = mustParse(LibraryABI)
	parsedLegacy  = mustParse(LegacyLibraryABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("contract: invalid ABI definition: " + err.Error())
	}
	return parsed
}

// ParsedLibraryABI 返回解析后的当前合约 ABI
func ParsedLibraryABI() abi.ABI {
	return parsedLibrary
}

// ParsedLegacyABI 返回解析后的旧合约 ABI
func ParsedLegacyABI() abi.ABI {
	return parsedLegacy
}
