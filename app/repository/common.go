package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB is a DBTX that can also open SQL transactions.
type DB interface {
	DBTX
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const mysqlDuplicateEntry = 1062

func isDuplicateEntryError(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

// nullable turns an optional field into a bind argument, nil meaning SQL NULL.
func nullable[T any](v *T) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func ptrFromNull[T any](v sql.Null[T]) *T {
	if !v.Valid {
		return nil
	}
	out := v.V
	return &out
}

// Metadata is stored as a JSON document; an absent or null column reads back empty.
func serializeMetadata(metadata entity.Metadata) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(payload), nil
}

func parseMetadata(raw sql.Null[string]) (entity.Metadata, error) {
	metadata := entity.Metadata{}
	if !raw.Valid || raw.V == "" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(raw.V), &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if metadata == nil {
		metadata = entity.Metadata{}
	}
	return metadata, nil
}
