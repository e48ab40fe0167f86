package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

var (
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrTransactionAlreadyExists = errors.New("transaction already exists")
)

const transactionColumns = `
	id, amount, currency, status, provider, provider_transaction_id, payment_method,
	description, customer_id, customer_email,
	refunded_amount, retry_count, next_retry_at, error_message, error_code,
	metadata_json, completed_at, created_at, updated_at
`

type TransactionFilter struct {
	Status     *entity.Status
	Provider   *entity.ProviderName
	CustomerID string
	From       *time.Time
	To         *time.Time
	Limit      int32
	Offset     int32
}

type TransactionRepository struct {
	db DB
}

func NewTransactionRepository(db DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *entity.Transaction) error {
	metadataJSON, err := serializeMetadata(txn.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		txn.ID,
		txn.Amount,
		txn.Currency,
		string(txn.Status),
		string(txn.Provider),
		nullable(txn.ProviderTransactionID),
		txn.PaymentMethod,
		nullable(txn.Description),
		nullable(txn.CustomerID),
		nullable(txn.CustomerEmail),
		txn.RefundedAmount,
		txn.RetryCount,
		nullable(txn.NextRetryAt),
		nullable(txn.ErrorMessage),
		nullable(txn.ErrorCode),
		metadataJSON,
		nullable(txn.CompletedAt),
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrTransactionAlreadyExists
		}
		return err
	}

	return nil
}

// Mutate loads the transaction under a row lock, lets fn change it and persists
// the result in the same SQL transaction. An error from fn aborts without writing.
func (r *TransactionRepository) Mutate(ctx context.Context, id string, fn func(txn *entity.Transaction) error) (*entity.Transaction, error) {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ? FOR UPDATE`
	txn, err := scanTransaction(sqlTx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := fn(txn); err != nil {
		return nil, err
	}

	if err := updateTransaction(ctx, sqlTx, txn); err != nil {
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}

	return txn, nil
}

func updateTransaction(ctx context.Context, db DBTX, txn *entity.Transaction) error {
	metadataJSON, err := serializeMetadata(txn.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE transactions SET
			status = ?,
			provider_transaction_id = ?,
			refunded_amount = ?,
			retry_count = ?,
			next_retry_at = ?,
			error_message = ?,
			error_code = ?,
			metadata_json = ?,
			completed_at = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := db.ExecContext(ctx, query,
		string(txn.Status),
		nullable(txn.ProviderTransactionID),
		txn.RefundedAmount,
		txn.RetryCount,
		nullable(txn.NextRetryAt),
		nullable(txn.ErrorMessage),
		nullable(txn.ErrorCode),
		metadataJSON,
		nullable(txn.CompletedAt),
		txn.UpdatedAt,
		txn.ID,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrTransactionAlreadyExists
		}
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}

	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return txn, nil
}

func (r *TransactionRepository) FindByProviderTransactionID(ctx context.Context, provider entity.ProviderName, providerTransactionID string) (*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE provider = ? AND provider_transaction_id = ?
		LIMIT 1
	`

	txn, err := scanTransaction(r.db.QueryRowContext(ctx, query, string(provider), providerTransactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return txn, nil
}

func (r *TransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]*entity.Transaction, error) {
	where, args := buildTransactionFilter(filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	return r.queryTransactions(ctx, query, args...)
}

func (r *TransactionRepository) Count(ctx context.Context, filter TransactionFilter) (int64, error) {
	where, args := buildTransactionFilter(filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (r *TransactionRepository) ListDueForRetry(ctx context.Context, now time.Time, limit int32) ([]*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status IN (?, ?)
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`

	return r.queryTransactions(ctx, query, string(entity.StatusInitiated), string(entity.StatusProcessing), now, limit)
}

func (r *TransactionRepository) ListStaleProcessing(ctx context.Context, before time.Time, limit int32) ([]*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = ?
		  AND provider_transaction_id IS NOT NULL
		  AND next_retry_at IS NULL
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	return r.queryTransactions(ctx, query, string(entity.StatusProcessing), before, limit)
}

func (r *TransactionRepository) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]*entity.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Transaction, 0)
	for rows.Next() {
		item, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func buildTransactionFilter(filter TransactionFilter) (string, []interface{}) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Provider != nil {
		conditions = append(conditions, "provider = ?")
		args = append(args, string(*filter.Provider))
	}
	if strings.TrimSpace(filter.CustomerID) != "" {
		conditions = append(conditions, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.From != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *filter.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanTransaction(row rowScanner) (*entity.Transaction, error) {
	var (
		txn                   entity.Transaction
		status                string
		provider              string
		providerTransactionID sql.Null[string]
		description           sql.Null[string]
		customerID            sql.Null[string]
		customerEmail         sql.Null[string]
		nextRetryAt           sql.Null[time.Time]
		errorMessage          sql.Null[string]
		errorCode             sql.Null[string]
		metadataJSON          sql.Null[string]
		completedAt           sql.Null[time.Time]
	)

	if err := row.Scan(
		&txn.ID,
		&txn.Amount,
		&txn.Currency,
		&status,
		&provider,
		&providerTransactionID,
		&txn.PaymentMethod,
		&description,
		&customerID,
		&customerEmail,
		&txn.RefundedAmount,
		&txn.RetryCount,
		&nextRetryAt,
		&errorMessage,
		&errorCode,
		&metadataJSON,
		&completedAt,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	); err != nil {
		return nil, err
	}

	metadata, err := parseMetadata(metadataJSON)
	if err != nil {
		return nil, err
	}

	txn.Status = entity.Status(status)
	txn.Provider = entity.ProviderName(provider)
	txn.ProviderTransactionID = ptrFromNull(providerTransactionID)
	txn.Description = ptrFromNull(description)
	txn.CustomerID = ptrFromNull(customerID)
	txn.CustomerEmail = ptrFromNull(customerEmail)
	txn.NextRetryAt = ptrFromNull(nextRetryAt)
	txn.ErrorMessage = ptrFromNull(errorMessage)
	txn.ErrorCode = ptrFromNull(errorCode)
	txn.Metadata = metadata
	txn.CompletedAt = ptrFromNull(completedAt)

	return &txn, nil
}
