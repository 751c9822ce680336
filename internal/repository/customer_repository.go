package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// CustomerRepository answers customer existence from the shared customers table.
type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) ExistsByExternalID(ctx context.Context, externalID string) (exists bool, err error) {
	ctx, span, done := observe(ctx, "CustomerExists")
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("customer_id", externalID))

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE external_id = $1)`, externalID).Scan(&exists)
	if err != nil {
		err = fmt.Errorf("failed to check customer: %w", err)
		return false, err
	}
	return exists, nil
}
