package repositories

import "context"

// TxFn runs within a transaction; the transaction travels in the context.
type TxFn func(ctx context.Context) error

// TransactionManager executes functions atomically.
type TransactionManager interface {
	ExecTx(ctx context.Context, fn TxFn) error
}
