// Package evm implements ledger.Client against the paylock marketplace
// contract over Ethereum JSON-RPC.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	logging "github.com/ipfs/go-log/v2"

	"xdao.co/paylock/ledger"
)

var log = logging.Logger("paylock/ledger")

var ErrUnexpectedOutput = errors.New("evm: unexpected contract output")

// Backend is the subset of *ethclient.Client the ledger client uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ Backend = (*ethclient.Client)(nil)

type Config struct {
	Contract common.Address
	ChainID  *big.Int

	// Key signs transactions. A nil Key yields a read-only client whose
	// Writer methods fail with ledger.ErrReadOnly.
	Key *ecdsa.PrivateKey
}

// Client is a ledger.Client backed by an EVM node.
type Client struct {
	backend  Backend
	abi      abi.ABI
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address

	// serializes nonce selection
	txMu sync.Mutex

	closer func()
}

var _ ledger.Client = (*Client)(nil)

func New(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, errors.New("evm: backend is required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.New("evm: contract address is required")
	}
	parsed, err := ParseABI()
	if err != nil {
		return nil, fmt.Errorf("evm: parse abi: %w", err)
	}
	c := &Client{
		backend:  backend,
		abi:      parsed,
		contract: cfg.Contract,
		chainID:  cfg.ChainID,
		key:      cfg.Key,
	}
	if cfg.Key != nil {
		if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
			return nil, errors.New("evm: chain id is required for signing")
		}
		c.from = crypto.PubkeyToAddress(cfg.Key.PublicKey)
	}
	return c, nil
}

// Dial connects to rawurl. Use a ws:// or wss:// url for Subscribe.
func Dial(ctx context.Context, rawurl string, cfg Config) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rawurl, err)
	}
	c, err := New(ec, cfg)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close
	return c, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// From is the signing account, or the zero address for a read-only client.
func (c *Client) From() common.Address { return c.from }

func (c *Client) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: %s: %w", method, err)
	}
	vals, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("evm: %s: unpack: %w", method, err)
	}
	return vals, nil
}

func (c *Client) ListItems(ctx context.Context) ([]ledger.Listing, error) {
	out, err := c.call(ctx, "getMarketplaceItems")
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, ErrUnexpectedOutput
	}
	tuples := *abi.ConvertType(out[0], new([]itemTuple)).(*[]itemTuple)
	items := make([]ledger.Listing, 0, len(tuples))
	for _, t := range tuples {
		items = append(items, t.listing())
	}
	return items, nil
}

func (c *Client) GetItem(ctx context.Context, id uint64) (*ledger.Listing, error) {
	out, err := c.call(ctx, "getItem", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, ErrUnexpectedOutput
	}
	t := *abi.ConvertType(out[0], new(itemTuple)).(*itemTuple)
	if t.Id == nil || t.Id.Sign() == 0 {
		return nil, fmt.Errorf("%w: %d", ledger.ErrItemNotFound, id)
	}
	l := t.listing()
	return &l, nil
}

func (c *Client) CheckOwnership(ctx context.Context, id uint64, account common.Address) (ledger.Ownership, error) {
	out, err := c.call(ctx, "checkOwnership", new(big.Int).SetUint64(id), account)
	if err != nil {
		return ledger.Ownership{}, err
	}
	if len(out) != 2 {
		return ledger.Ownership{}, ErrUnexpectedOutput
	}
	purchased, ok1 := out[0].(bool)
	key, ok2 := out[1].(string)
	if !ok1 || !ok2 {
		return ledger.Ownership{}, ErrUnexpectedOutput
	}
	return ledger.Ownership{Purchased: purchased, DeliveredKey: key}, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

func (t itemTuple) listing() ledger.Listing {
	return ledger.Listing{
		ID:          u64(t.Id),
		Seller:      t.Seller,
		Name:        t.Name,
		ContentRef:  t.IpfsCid,
		PreviewRef:  t.PreviewCid,
		ContentType: t.FileType,
		Price:       nonNil(t.Price),
		MaxSupply:   u64(t.MaxSupply),
		SoldCount:   u64(t.SoldCount),
		SoldOut:     t.IsSoldOut,
		ListedAt:    unixTime(t.ListedAt),
	}
}

func u64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func unixTime(v *big.Int) time.Time {
	if v == nil || !v.IsInt64() || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
