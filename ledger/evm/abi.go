package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// MarketABI is the interface of the paylock marketplace contract.
const MarketABI = `[
  {"type":"function","name":"getMarketplaceItems","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"id","type":"uint256"},{"name":"seller","type":"address"},{"name":"name","type":"string"},
     {"name":"ipfsCid","type":"string"},{"name":"previewCid","type":"string"},{"name":"fileType","type":"string"},
     {"name":"price","type":"uint256"},{"name":"maxSupply","type":"uint256"},{"name":"soldCount","type":"uint256"},
     {"name":"isSoldOut","type":"bool"},{"name":"listedAt","type":"uint256"}]}]},
  {"type":"function","name":"getItem","stateMutability":"view","inputs":[{"name":"itemId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"id","type":"uint256"},{"name":"seller","type":"address"},{"name":"name","type":"string"},
     {"name":"ipfsCid","type":"string"},{"name":"previewCid","type":"string"},{"name":"fileType","type":"string"},
     {"name":"price","type":"uint256"},{"name":"maxSupply","type":"uint256"},{"name":"soldCount","type":"uint256"},
     {"name":"isSoldOut","type":"bool"},{"name":"listedAt","type":"uint256"}]}]},
  {"type":"function","name":"checkOwnership","stateMutability":"view",
   "inputs":[{"name":"itemId","type":"uint256"},{"name":"account","type":"address"}],
   "outputs":[{"name":"purchased","type":"bool"},{"name":"encryptedKey","type":"string"}]},
  {"type":"function","name":"buyItem","stateMutability":"payable","inputs":[{"name":"itemId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"listItem","stateMutability":"nonpayable",
   "inputs":[{"name":"name","type":"string"},{"name":"ipfsCid","type":"string"},{"name":"previewCid","type":"string"},
     {"name":"fileType","type":"string"},{"name":"price","type":"uint256"},{"name":"maxSupply","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"deliverKey","stateMutability":"nonpayable",
   "inputs":[{"name":"itemId","type":"uint256"},{"name":"buyer","type":"address"},{"name":"encryptedKey","type":"string"}],"outputs":[]},
  {"type":"function","name":"cancelListing","stateMutability":"nonpayable","inputs":[{"name":"itemId","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"ItemListed","anonymous":false,"inputs":[
     {"name":"itemId","type":"uint256","indexed":true},{"name":"seller","type":"address","indexed":true},
     {"name":"price","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"ItemPurchased","anonymous":false,"inputs":[
     {"name":"itemId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},
     {"name":"price","type":"uint256","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"KeyDelivered","anonymous":false,"inputs":[
     {"name":"itemId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},
     {"name":"encryptedKey","type":"string","indexed":false},{"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"ItemCanceled","anonymous":false,"inputs":[
     {"name":"itemId","type":"uint256","indexed":true},{"name":"seller","type":"address","indexed":true},
     {"name":"timestamp","type":"uint256","indexed":false}]}
]`

// ParseABI returns the parsed marketplace ABI.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(MarketABI))
}

// itemTuple mirrors the contract's Item struct. Field names and types must
// match the ABI components for abi.ConvertType.
type itemTuple struct {
	Id         *big.Int
	Seller     common.Address
	Name       string
	IpfsCid    string
	PreviewCid string
	FileType   string
	Price      *big.Int
	MaxSupply  *big.Int
	SoldCount  *big.Int
	IsSoldOut  bool
	ListedAt   *big.Int
}
