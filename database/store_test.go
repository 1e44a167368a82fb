package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"checkout-service/apperrors"
	"checkout-service/models"
	"checkout-service/services"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{"id", "cart_id", "user_id", "guest_email", "guest_name", "guest_phone", "status",
	"subtotal", "shipping_fee", "total", "shipping_address", "payment_url", "payment_reference",
	"version", "created_at", "updated_at", "paid_at", "shipped_at", "completed_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestWithinTxCommits(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE carts SET status = ?")).
		WithArgs("CHECKED_OUT", int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(tx services.Store) error {
		return tx.Carts().MarkCheckedOut(context.Background(), 1)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(tx services.Store) error {
		// nested calls join the outer transaction
		return tx.WithinTx(context.Background(), func(services.Store) error { return boom })
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdateLoadsOrderAndItems(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ? FOR UPDATE")).
		WithArgs("ORDER-ABCD1234").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(
			"ORDER-ABCD1234", int64(1), nil, "tamu@example.com", "Tamu", nil, "PAYMENT_PENDING",
			"200000.00", "15000.00", "215000.00", "Jl. Braga 1", "https://pay/1", "PAY-1",
			3, now, now, nil, nil, nil))
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_items WHERE order_id = ?")).
		WithArgs("ORDER-ABCD1234").
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "product_name", "unit_price", "quantity"}).
			AddRow(int64(1), int64(10), "Kemeja", "100000.00", 2))

	o, err := s.Orders().GetForUpdate(context.Background(), "ORDER-ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaymentPending, o.Status)
	assert.Nil(t, o.UserID)
	require.NotNil(t, o.Guest)
	assert.Equal(t, "tamu@example.com", o.Guest.Email)
	assert.Equal(t, 3, o.Version)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(215000)))
	require.Len(t, o.Items, 1)
	assert.True(t, o.Items[0].LineTotal().Equal(decimal.NewFromInt(200000)))
	assert.Nil(t, o.PaidAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingOrder(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).
		WithArgs("ORDER-X").
		WillReturnRows(sqlmock.NewRows(orderCols))

	_, err := s.Orders().Get(context.Background(), "ORDER-X")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func testOrder() *models.Order {
	uid := int64(5)
	return &models.Order{ID: "ORDER-1", CartID: 1, UserID: &uid, Status: models.StatusPaid, Version: 2}
}

func TestUpdateBumpsVersion(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 1))

	o := testOrder()
	require.NoError(t, s.Orders().Update(context.Background(), o))
	assert.Equal(t, 3, o.Version)
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM orders WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	o := testOrder()
	err := s.Orders().Update(context.Background(), o)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, 2, o.Version)
}

func TestUpdateMissingOrder(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM orders WHERE id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	err := s.Orders().Update(context.Background(), testOrder())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateOrderForConvertedCart(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO orders")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '1' for key 'uk_orders_cart'"})

	err := s.Orders().Create(context.Background(), testOrder())
	assert.ErrorIs(t, err, apperrors.ErrBusinessRule)
	assert.EqualError(t, err, "An order has already been created from this cart")
}

func TestCallbackDuplicateKey(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO payment_callback_log")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	err := s.Callbacks().Create(context.Background(), &models.PaymentCallback{OrderID: "ORDER-1", Reference: "tx_settlement", Type: models.CallbackMidtransNotification})
	assert.ErrorIs(t, err, apperrors.ErrDuplicate)
}

func TestCallbackExists(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_callback_log")).
		WithArgs("cb-1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_callback_log")).
		WithArgs("cb-2").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	ok, err := s.Callbacks().Exists(context.Background(), "cb-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Callbacks().Exists(context.Background(), "cb-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCartWithItems(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM carts WHERE id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "session_id", "status"}).AddRow(int64(7), nil, "sess", "ACTIVE"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM cart_items WHERE cart_id = ?")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "product_name", "price", "quantity"}).AddRow(int64(1), "Topi", "50000.00", 1))

	c, err := s.Carts().Get(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, c.IsActive())
	assert.Nil(t, c.UserID)
	assert.Equal(t, "sess", c.SessionID)
	require.Len(t, c.Items, 1)
}

func TestOutboxRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	ev := models.OrderEvent{EventID: "ev-1", Type: models.EventOrderPaid, OrderID: "ORDER-1"}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox")).
		WithArgs("ev-1", models.EventOrderPaid, "ORDER-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT payload FROM outbox")).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(`{"event_id":"ev-1","type":"order.paid","order_id":"ORDER-1"}`))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET sent_at = ?")).
		WithArgs(sqlmock.AnyArg(), "ev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Outbox().Add(context.Background(), ev))
	pending, err := s.Events().Pending(context.Background(), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "ORDER-1", pending[0].OrderID)
	require.NoError(t, s.Events().MarkSent(context.Background(), "ev-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
