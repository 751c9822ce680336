// Package mocks holds testify mocks for the contracts in package interfaces.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/akylbek/payment-system/payment-gateway/internal/models"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// CustomerDirectory mocks interfaces.CustomerDirectory.
type CustomerDirectory struct {
	mock.Mock
}

func NewCustomerDirectory(t testingT) *CustomerDirectory {
	m := &CustomerDirectory{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *CustomerDirectory) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	args := m.Called(ctx, externalID)
	return args.Bool(0), args.Error(1)
}

// EventPublisher mocks interfaces.EventPublisher.
type EventPublisher struct {
	mock.Mock
}

func NewEventPublisher(t testingT) *EventPublisher {
	m := &EventPublisher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *EventPublisher) PublishStateChange(ctx context.Context, event models.StateChangeEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// TransactionRepository mocks interfaces.TransactionRepository.
type TransactionRepository struct {
	mock.Mock
}

func NewTransactionRepository(t testingT) *TransactionRepository {
	m := &TransactionRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *TransactionRepository) Save(ctx context.Context, tx *models.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *TransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

func (m *TransactionRepository) FindByProviderTransactionID(ctx context.Context, providerTxID string) (*models.Transaction, error) {
	args := m.Called(ctx, providerTxID)
	tx, _ := args.Get(0).(*models.Transaction)
	return tx, args.Error(1)
}

// AuditLogRepository mocks interfaces.AuditLogRepository.
type AuditLogRepository struct {
	mock.Mock
}

func NewAuditLogRepository(t testingT) *AuditLogRepository {
	m := &AuditLogRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *AuditLogRepository) Save(ctx context.Context, entry *models.AuditLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *AuditLogRepository) FindByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.AuditLogEntry, error) {
	args := m.Called(ctx, transactionID)
	entries, _ := args.Get(0).([]models.AuditLogEntry)
	return entries, args.Error(1)
}

func (m *AuditLogRepository) FindByTransactionAndStatus(ctx context.Context, transactionID uuid.UUID, status models.Status) ([]models.AuditLogEntry, error) {
	args := m.Called(ctx, transactionID, status)
	entries, _ := args.Get(0).([]models.AuditLogEntry)
	return entries, args.Error(1)
}
