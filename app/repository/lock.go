package repository

import (
	"context"
	"time"
)

const transactionLockKeyPrefix = "lock:transaction:"

// TransactionLockRepository serializes confirm, refund and cancel calls per transaction id.
type TransactionLockRepository struct {
	store KeyValueStore
}

func NewTransactionLockRepository(store KeyValueStore) *TransactionLockRepository {
	return &TransactionLockRepository{store: store}
}

func (r *TransactionLockRepository) Acquire(ctx context.Context, transactionID, owner string, ttl time.Duration) (bool, error) {
	return r.store.SetIfAbsent(ctx, transactionLockKeyPrefix+transactionID, []byte(owner), ttl)
}

func (r *TransactionLockRepository) Release(ctx context.Context, transactionID, owner string) error {
	_, err := r.store.DeleteIfEquals(ctx, transactionLockKeyPrefix+transactionID, []byte(owner))
	return err
}
