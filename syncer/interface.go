package syncer

import (
	"context"

	"github.com/binderyhq/bindery/storeproxy"
)

//go:generate mockgen -typed -package=mocks -destination=./mocks/mocks.go -source=./interface.go

// StoreClient merges sync rounds from the upstream bookstore. The production
// implementation lives in the storeproxy package; the syncer only needs the
// merge call.
type StoreClient interface {
	// MergeSync forwards a device sync round upstream. upstream is the token
	// state saved from the previous merge, empty on the first round.
	MergeSync(ctx context.Context, upstream string) (*storeproxy.MergeResult, error)
}
