package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is the body of a transaction. It may run more than once when Firestore detects contention,
// so it must not carry side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption tunes a single RunTransaction call.
type TxOption func(*txConfig)

type txConfig struct {
	op       string
	attempts int
	timeout  time.Duration
	readOnly bool
}

func defaultTxConfig() txConfig {
	return txConfig{op: "transaction", attempts: 5, timeout: 15 * time.Second}
}

// WithTxOp labels errors returned by the transaction, for example "stock.deduct".
func WithTxOp(op string) TxOption {
	return func(cfg *txConfig) {
		if op != "" {
			cfg.op = op
		}
	}
}

// WithTxAttempts caps how many times a contended transaction is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTxReadOnly reads from a consistent snapshot; any write inside fn fails.
func WithTxReadOnly() TxOption {
	return func(cfg *txConfig) {
		cfg.readOnly = true
	}
}

// RunTransaction runs fn on client. Errors returned by fn itself keep their type so callers can
// match their own sentinels; backend failures come back classified by WrapError.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	cfg := defaultTxConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	switch {
	case client == nil:
		return WrapError(cfg.op, errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError(cfg.op, errors.New("firestore: transaction function is nil"))
	}

	ctx, cancel := boundContext(ctx, cfg.timeout)
	defer cancel()

	txOpts := []firestore.TransactionOption{firestore.MaxAttempts(cfg.attempts)}
	if cfg.readOnly {
		txOpts = append(txOpts, firestore.ReadOnly)
	}
	return WrapError(cfg.op, client.RunTransaction(ctx, fn, txOpts...))
}

// boundContext applies limit unless ctx already expires sooner.
func boundContext(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= limit {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, limit)
}
