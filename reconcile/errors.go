package reconcile

import "errors"

var (
	ErrLedgerReadFailed = errors.New("reconcile: ledger read failed")
	ErrAmbiguousBuyer   = errors.New("reconcile: buyer address unknown, supply it explicitly")
	ErrNotBuyer         = errors.New("reconcile: address has not purchased the item")
	ErrKeyMismatch      = errors.New("reconcile: key does not match the published fingerprint")
	ErrNoKey            = errors.New("reconcile: no key available")
	ErrWrongKey         = errors.New("reconcile: wrong key or corrupted file")
	ErrIncomplete       = errors.New("reconcile: corrupted or incomplete download")
	ErrNotConfigured    = errors.New("reconcile: engine is missing a collaborator")
)
