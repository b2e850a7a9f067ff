package database

import (
	"context"
	"database/sql"
	"fmt"

	"installment_notifier/internal/domain/contract"
)

type PostgresContractRepository struct {
	db *sql.DB
}

func NewPostgresContractRepository(db *sql.DB) *PostgresContractRepository {
	return &PostgresContractRepository{db: db}
}

// ListPublished returns every published contract with its raw installment list, ordered by id.
func (r *PostgresContractRepository) ListPublished(ctx context.Context) ([]*contract.Contract, error) {
	query := `SELECT id, customer_id, installments
               FROM contracts
               WHERE status = 'published'
               ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing published contracts: %w", err)
	}
	defer rows.Close()

	var contracts []*contract.Contract
	for rows.Next() {
		c := &contract.Contract{Published: true}
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.InstallmentsJSON); err != nil {
			return nil, fmt.Errorf("error scanning contract row: %w", err)
		}
		contracts = append(contracts, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contract rows: %w", err)
	}
	return contracts, nil
}

// contactColumns maps a delivery channel to the customers column holding its address.
var contactColumns = map[string]string{
	"sms":      "phone",
	"email":    "email",
	"telegram": "telegram_chat_id",
}

type PostgresCustomerDirectory struct {
	db     *sql.DB
	column string
}

// NewPostgresCustomerDirectory returns a directory resolving addresses for the given channel.
func NewPostgresCustomerDirectory(db *sql.DB, channel string) (*PostgresCustomerDirectory, error) {
	column, ok := contactColumns[channel]
	if !ok {
		return nil, fmt.Errorf("no contact column for channel %q", channel)
	}
	return &PostgresCustomerDirectory{db: db, column: column}, nil
}

func (d *PostgresCustomerDirectory) ContactAddress(ctx context.Context, customerID int64) (string, error) {
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE id = $1`, d.column)
	var address sql.NullString
	err := d.db.QueryRowContext(ctx, query, customerID).Scan(&address)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", contract.ErrContactNotFound
		}
		return "", fmt.Errorf("error getting contact for customer %d: %w", customerID, err)
	}
	if !address.Valid || address.String == "" {
		return "", contract.ErrContactNotFound
	}
	return address.String, nil
}
