package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrItemNotFound = errors.New("ledger: item not found")
	ErrReadOnly     = errors.New("ledger: client has no signing key")
	ErrUnknownTopic = errors.New("ledger: unknown event topic")
)

// Topic names a marketplace event.
type Topic string

const (
	TopicListed    Topic = "ItemListed"
	TopicPurchased Topic = "ItemPurchased"
	TopicDelivered Topic = "KeyDelivered"
	TopicCanceled  Topic = "ItemCanceled"
)

// Topics lists every topic in a stable order.
var Topics = []Topic{TopicListed, TopicPurchased, TopicDelivered, TopicCanceled}

func (t Topic) Valid() bool {
	switch t {
	case TopicListed, TopicPurchased, TopicDelivered, TopicCanceled:
		return true
	}
	return false
}

// Listing is an item as the ledger reports it.
type Listing struct {
	ID          uint64
	Seller      common.Address
	Name        string
	ContentRef  string
	PreviewRef  string
	ContentType string
	Price       *big.Int
	MaxSupply   uint64
	SoldCount   uint64
	SoldOut     bool
	ListedAt    time.Time
}

// IsSoldOut reports whether no further purchase can succeed.
func (l *Listing) IsSoldOut() bool {
	return l.SoldOut || (l.MaxSupply > 0 && l.SoldCount >= l.MaxSupply)
}

// Remaining is the number of unsold units, or 0 when sold out.
func (l *Listing) Remaining() uint64 {
	if l.IsSoldOut() || l.SoldCount >= l.MaxSupply {
		return 0
	}
	return l.MaxSupply - l.SoldCount
}

// Position orders events within the ledger.
type Position struct {
	Block uint64
	Index uint
}

// Compare returns -1, 0 or +1.
func (p Position) Compare(o Position) int {
	switch {
	case p.Block < o.Block:
		return -1
	case p.Block > o.Block:
		return 1
	case p.Index < o.Index:
		return -1
	case p.Index > o.Index:
		return 1
	}
	return 0
}

func (p Position) String() string { return fmt.Sprintf("%d-%d", p.Block, p.Index) }

// Event is a decoded marketplace log. Account is the seller for ItemListed,
// the buyer for ItemPurchased and KeyDelivered, and the seller for
// ItemCanceled. Key is only set for KeyDelivered.
type Event struct {
	Topic     Topic
	ItemID    uint64
	Account   common.Address
	Key       string
	Position  Position
	Timestamp time.Time
	TxHash    common.Hash
}

// Ownership is the viewer-scoped ownership state for one item.
type Ownership struct {
	Purchased    bool
	DeliveredKey string
}

// ListItemRequest carries the arguments of a listItem call.
type ListItemRequest struct {
	Name        string
	ContentRef  string
	PreviewRef  string
	ContentType string
	Price       *big.Int
	MaxSupply   uint64
}

// Reader is the read side of the ledger.
type Reader interface {
	ListItems(ctx context.Context) ([]Listing, error)
	GetItem(ctx context.Context, id uint64) (*Listing, error)
	CheckOwnership(ctx context.Context, id uint64, account common.Address) (Ownership, error)
	BlockNumber(ctx context.Context) (uint64, error)
	// GetLogs returns the events of topic within [from, to], ordered by position.
	GetLogs(ctx context.Context, topic Topic, from, to uint64) ([]Event, error)
}

// Writer submits transactions on behalf of the configured account.
type Writer interface {
	Buy(ctx context.Context, id uint64, price *big.Int) (common.Hash, error)
	ListItem(ctx context.Context, req ListItemRequest) (common.Hash, error)
	DeliverKey(ctx context.Context, id uint64, buyer common.Address, key string) (common.Hash, error)
	CancelListing(ctx context.Context, id uint64) (common.Hash, error)
}

// Subscription is an active event feed.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Subscriber pushes new events as they are mined.
type Subscriber interface {
	Subscribe(ctx context.Context, sink chan<- Event) (Subscription, error)
}

// Client is the full ledger boundary.
type Client interface {
	Reader
	Writer
	Subscriber
}

// FindItem returns the listing with id from items, or nil.
func FindItem(items []Listing, id uint64) *Listing {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}
