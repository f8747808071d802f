package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"xdao.co/paylock/ledger"
)

func (c *Client) Buy(ctx context.Context, id uint64, price *big.Int) (common.Hash, error) {
	return c.transact(ctx, price, "buyItem", new(big.Int).SetUint64(id))
}

func (c *Client) ListItem(ctx context.Context, req ledger.ListItemRequest) (common.Hash, error) {
	price := req.Price
	if price == nil {
		price = new(big.Int)
	}
	return c.transact(ctx, nil, "listItem",
		req.Name, req.ContentRef, req.PreviewRef, req.ContentType,
		price, new(big.Int).SetUint64(req.MaxSupply))
}

func (c *Client) DeliverKey(ctx context.Context, id uint64, buyer common.Address, key string) (common.Hash, error) {
	return c.transact(ctx, nil, "deliverKey", new(big.Int).SetUint64(id), buyer, key)
}

func (c *Client) CancelListing(ctx context.Context, id uint64) (common.Hash, error) {
	return c.transact(ctx, nil, "cancelListing", new(big.Int).SetUint64(id))
}

func (c *Client) transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, ledger.ErrReadOnly
	}
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: %s: pack: %w", method, err)
	}
	if value == nil {
		value = new(big.Int)
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: %s: nonce: %w", method, err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: %s: gas price: %w", method, err)
	}
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &c.contract,
		Value: value,
		Data:  input,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: %s: estimate gas: %w", method, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &c.contract,
		Value:    value,
		Data:     input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: %s: sign: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("evm: %s: send: %w", method, err)
	}
	log.Infow("transaction sent", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)
	return signed.Hash(), nil
}
