package chain

import (
	"context"
	"math/big"

	"github.com/tonstable/risk-client/cell"
)

// Querier runs read-only get methods against a contract.
type Querier interface {
	RunGetMethod(ctx context.Context, address *cell.Address, method string, args ...cell.TupleItem) (*Stack, error)
}

// Sender signs and submits an internal message from the operator's wallet.
// A nil error means the message was accepted for submission, not that it
// was executed.
type Sender interface {
	Address() *cell.Address
	Send(ctx context.Context, to *cell.Address, value *big.Int, body *cell.Cell) error
}

// Ledger exposes the block sequence cursor and per-account transaction
// markers used to observe confirmations.
type Ledger interface {
	LatestSeqno(ctx context.Context) (uint32, error)
	// LastTransaction returns the logical time of the account's latest
	// transaction as of the block, or "" when it has none.
	LastTransaction(ctx context.Context, seqno uint32, account *cell.Address) (string, error)
}
