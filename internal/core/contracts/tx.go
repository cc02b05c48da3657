package contracts

import "context"

// TxManager runs a function inside one database transaction. The transaction
// travels in the context so repositories pick it up transparently.
type TxManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
