// Package market implements the seller and buyer actions that write to the
// ledger: listing an encrypted artifact, buying, and canceling.
package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/keys"
	"xdao.co/paylock/ledger"
	"xdao.co/paylock/scan"
	"xdao.co/paylock/vault"
)

var log = logging.Logger("paylock/market")

var (
	ErrInvalidListing = errors.New("market: invalid listing")
	ErrSoldOut        = errors.New("market: item is sold out")
	ErrNotSeller      = errors.New("market: only the seller can cancel")
	ErrNoSigner       = errors.New("market: derived keys need a signer")
)

// KeyMode selects how a listing's content key is produced.
type KeyMode int

const (
	// KeyRandom draws a fresh key. It is recoverable only from the key cache.
	KeyRandom KeyMode = iota
	// KeyDerived signs the canonical message for the item name; the key can
	// be re-derived later by signing again.
	KeyDerived
)

// Ledger is the part of ledger.Client the market writes through.
type Ledger interface {
	ledger.Reader
	ledger.Writer
}

type Config struct {
	Fabric *fabric.Fabric
	Ledger Ledger
	Cache  *keys.Cache
	Signer keys.Signer
	AppTag string
	// Account is the caller's address. It defaults to the signer's.
	Account common.Address
}

type Service struct {
	fabric  *fabric.Fabric
	ledger  Ledger
	cache   *keys.Cache
	signer  keys.Signer
	appTag  string
	account common.Address
}

func New(cfg Config) (*Service, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("market: ledger is required")
	}
	s := &Service{
		fabric:  cfg.Fabric,
		ledger:  cfg.Ledger,
		cache:   cfg.Cache,
		signer:  cfg.Signer,
		appTag:  cfg.AppTag,
		account: cfg.Account,
	}
	if s.account == (common.Address{}) && s.signer != nil {
		s.account = s.signer.Address()
	}
	return s, nil
}

type ListRequest struct {
	Name        string
	Description string
	Filename    string
	Data        []byte

	// Preview is an optional unencrypted preview image.
	Preview         []byte
	PreviewFilename string

	Price     *big.Int
	MaxSupply uint64
	KeyMode   KeyMode
}

type ListResult struct {
	Tx          common.Hash
	ContentRef  string
	PreviewRef  string
	ImageRef    string
	ContentType string
	Fingerprint string
}

func (r *ListRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidListing)
	}
	if r.MaxSupply < 1 {
		return fmt.Errorf("%w: max supply must be at least 1", ErrInvalidListing)
	}
	if r.Price != nil && r.Price.Sign() < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidListing)
	}
	return nil
}

// List scans, encrypts and publishes an artifact, remembers its key, then
// lists it on the ledger with a preview metadata document carrying the key
// fingerprint.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if s.fabric == nil {
		return nil, errors.New("market: content fabric is required to list")
	}
	name := strings.TrimSpace(req.Name)

	scanned, err := scan.Check(req.Data, req.Filename)
	if err != nil {
		return nil, err
	}

	key, err := s.contentKey(ctx, name, req.KeyMode)
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	payload, err := vault.Encrypt(req.Data, key)
	if err != nil {
		return nil, err
	}
	res := &ListResult{ContentType: scanned.MIMEType, Fingerprint: key.Fingerprint()}

	res.ContentRef, err = s.fabric.Publish(ctx, payload, name)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Remember(res.ContentRef, name, key); err != nil {
			return nil, fmt.Errorf("market: caching key: %w", err)
		}
	}

	if len(req.Preview) > 0 {
		if _, err := scan.Check(req.Preview, req.PreviewFilename); err != nil {
			return nil, fmt.Errorf("market: preview: %w", err)
		}
		res.ImageRef, err = s.fabric.Publish(ctx, req.Preview, req.PreviewFilename)
		if err != nil {
			return nil, err
		}
	}

	doc, err := fabric.BuildMetadata(fabric.Metadata{
		Name:           name,
		Description:    req.Description,
		Image:          res.ImageRef,
		ContentType:    res.ContentType,
		KeyFingerprint: res.Fingerprint,
	})
	if err != nil {
		return nil, err
	}
	res.PreviewRef, err = s.fabric.Publish(ctx, doc, name+".json")
	if err != nil {
		return nil, err
	}

	price := req.Price
	if price == nil {
		price = new(big.Int)
	}
	res.Tx, err = s.ledger.ListItem(ctx, ledger.ListItemRequest{
		Name:        name,
		ContentRef:  res.ContentRef,
		PreviewRef:  res.PreviewRef,
		ContentType: res.ContentType,
		Price:       price,
		MaxSupply:   req.MaxSupply,
	})
	if err != nil {
		return nil, fmt.Errorf("market: list item: %w", err)
	}
	log.Infow("listed", "name", name, "content", res.ContentRef, "preview", res.PreviewRef, "fingerprint", res.Fingerprint, "tx", res.Tx.Hex())
	return res, nil
}

func (s *Service) contentKey(ctx context.Context, name string, mode KeyMode) (vault.Key, error) {
	switch mode {
	case KeyRandom:
		return vault.GenerateRandomKey()
	case KeyDerived:
		if s.signer == nil {
			return vault.Key{}, ErrNoSigner
		}
		sig, err := s.signer.SignMessage(ctx, []byte(vault.CanonicalMessage(s.appTag, name)))
		if err != nil {
			return vault.Key{}, fmt.Errorf("market: sign canonical message: %w", err)
		}
		return vault.DeriveKeyFromSignature(sig)
	default:
		return vault.Key{}, fmt.Errorf("market: unknown key mode %d", mode)
	}
}

// Buy pays the listed price for one unit of id.
func (s *Service) Buy(ctx context.Context, id uint64) (common.Hash, error) {
	item, err := s.ledger.GetItem(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	if item.IsSoldOut() {
		return common.Hash{}, fmt.Errorf("%w: item %d", ErrSoldOut, id)
	}
	tx, err := s.ledger.Buy(ctx, id, item.Price)
	if err != nil {
		return common.Hash{}, fmt.Errorf("market: buy item %d: %w", id, err)
	}
	log.Infow("bought", "item", id, "price", item.Price.String(), "tx", tx.Hex())
	return tx, nil
}

// Cancel closes the open slot of a listing the caller sold.
func (s *Service) Cancel(ctx context.Context, id uint64) (common.Hash, error) {
	item, err := s.ledger.GetItem(ctx, id)
	if err != nil {
		return common.Hash{}, err
	}
	if item.Seller != s.account {
		return common.Hash{}, fmt.Errorf("%w: item %d belongs to %s", ErrNotSeller, id, item.Seller.Hex())
	}
	tx, err := s.ledger.CancelListing(ctx, id)
	if err != nil {
		return common.Hash{}, fmt.Errorf("market: cancel item %d: %w", id, err)
	}
	log.Infow("canceled", "item", id, "tx", tx.Hex())
	return tx, nil
}
