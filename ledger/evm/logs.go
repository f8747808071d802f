package evm

import (
	"context"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"xdao.co/paylock/ledger"
)

func (c *Client) topicID(topic ledger.Topic) (common.Hash, error) {
	ev, ok := c.abi.Events[string(topic)]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %q", ledger.ErrUnknownTopic, topic)
	}
	return ev.ID, nil
}

func (c *Client) GetLogs(ctx context.Context, topic ledger.Topic, from, to uint64) ([]ledger.Event, error) {
	id, err := c.topicID(topic)
	if err != nil {
		return nil, err
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{id}},
	}
	raw, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("evm: filter %s logs: %w", topic, err)
	}

	events := make([]ledger.Event, 0, len(raw))
	for _, lg := range raw {
		if lg.Removed {
			continue
		}
		ev, err := c.decode(lg)
		if err != nil {
			log.Debugw("skip undecodable log", "topic", topic, "tx", lg.TxHash.Hex(), "err", err)
			continue
		}
		events = append(events, ev)
	}
	slices.SortStableFunc(events, func(a, b ledger.Event) int { return a.Position.Compare(b.Position) })
	return events, nil
}

// Subscribe streams every marketplace event to sink until ctx is canceled or
// the subscription is dropped. It needs a websocket backend.
func (c *Client) Subscribe(ctx context.Context, sink chan<- ledger.Event) (ledger.Subscription, error) {
	ids := make([]common.Hash, 0, len(ledger.Topics))
	for _, t := range ledger.Topics {
		id, err := c.topicID(t)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{ids},
	}
	logs := make(chan types.Log, 64)
	sub, err := c.backend.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return nil, fmt.Errorf("evm: subscribe: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case lg := <-logs:
				if lg.Removed {
					continue
				}
				ev, err := c.decode(lg)
				if err != nil {
					log.Debugw("skip undecodable log", "tx", lg.TxHash.Hex(), "err", err)
					continue
				}
				select {
				case sink <- ev:
				case <-quit:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

func (c *Client) decode(lg types.Log) (ledger.Event, error) {
	if len(lg.Topics) < 3 {
		return ledger.Event{}, fmt.Errorf("evm: expected 3 topics, got %d", len(lg.Topics))
	}
	abiEv, err := c.abi.EventByID(lg.Topics[0])
	if err != nil {
		return ledger.Event{}, err
	}
	vals, err := c.abi.Unpack(abiEv.Name, lg.Data)
	if err != nil {
		return ledger.Event{}, err
	}

	ev := ledger.Event{
		Topic:    ledger.Topic(abiEv.Name),
		ItemID:   u64(new(big.Int).SetBytes(lg.Topics[1].Bytes())),
		Account:  common.BytesToAddress(lg.Topics[2].Bytes()),
		Position: ledger.Position{Block: lg.BlockNumber, Index: lg.Index},
		TxHash:   lg.TxHash,
	}
	// timestamp is always the last non-indexed field
	if n := len(vals); n > 0 {
		if ts, ok := vals[n-1].(*big.Int); ok {
			ev.Timestamp = unixTime(ts)
		}
	}
	if ev.Topic == ledger.TopicDelivered && len(vals) > 0 {
		if key, ok := vals[0].(string); ok {
			ev.Key = key
		}
	}
	return ev, nil
}
