package backend

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/scalpel-explorer/api/schemas"
)

const (
	ordersSQL = "SELECT count(*) FROM orders"
	usersSQL  = "SELECT count(*) FROM users"
)

var testQueries = map[string]string{"orders": ordersSQL, "users": usersSQL}

func expectCount(m pgxmock.PgxPoolIface, sql string, v int64) {
	m.ExpectQuery(regexp.QuoteMeta(sql)).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(v))
}

func newAdapter(t *testing.T) (*PostgresAdapter, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	a, err := NewPostgresAdapter(context.Background(), mockPool, testQueries, zaptest.NewLogger(t))
	require.NoError(t, err)
	return a, mockPool
}

func TestNewPostgresAdapter(t *testing.T) {
	t.Run("should require queries", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		_, err = NewPostgresAdapter(context.Background(), mockPool, nil, zaptest.NewLogger(t))
		assert.Error(t, err)
	})

	t.Run("should propagate ping failures", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("connection refused")
		mockPool.ExpectPing().WillReturnError(pingErr)
		_, err = NewPostgresAdapter(context.Background(), mockPool, testQueries, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, pingErr)
	})
}

func TestCaptureState(t *testing.T) {
	a, mockPool := newAdapter(t)
	assert.Equal(t, "postgres", a.Name())

	expectCount(mockPool, ordersSQL, 4)
	expectCount(mockPool, usersSQL, 2)

	raw, err := a.CaptureState(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"orders":4,"users":2}`, string(raw))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		after  int64
		delta  int64
		passed bool
		actual string
	}{
		{name: "expected growth passes", after: 5, delta: 1, passed: true, actual: "1"},
		{name: "no change fails a growth expectation", after: 4, delta: 1, actual: "0"},
		{name: "no change passes a zero delta", after: 4, delta: 0, passed: true, actual: "0"},
		{name: "deletion is a negative delta", after: 3, delta: -1, passed: true, actual: "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, mockPool := newAdapter(t)
			expectCount(mockPool, ordersSQL, 4)
			expectCount(mockPool, usersSQL, 2)
			_, err := a.CaptureState(context.Background())
			require.NoError(t, err)

			expectCount(mockPool, ordersSQL, tt.after)
			v, err := a.Verify(context.Background(), "Place order", schemas.Expectation{Query: "orders", Delta: tt.delta})
			require.NoError(t, err)
			assert.Equal(t, tt.passed, v.Passed)
			assert.Equal(t, tt.actual, v.Actual)
			assert.Contains(t, v.Message, "orders changed by")
			assert.NoError(t, mockPool.ExpectationsWereMet())
		})
	}
}

func TestVerifyErrors(t *testing.T) {
	t.Run("should reject unknown queries", func(t *testing.T) {
		a, _ := newAdapter(t)
		_, err := a.Verify(context.Background(), "Place order", schemas.Expectation{Query: "payments", Delta: 1})
		assert.ErrorIs(t, err, ErrUnknownQuery)
	})

	t.Run("should require a baseline", func(t *testing.T) {
		a, _ := newAdapter(t)
		_, err := a.Verify(context.Background(), "Place order", schemas.Expectation{Query: "orders", Delta: 1})
		assert.ErrorContains(t, err, "no baseline")
	})

	t.Run("should wrap query failures", func(t *testing.T) {
		a, mockPool := newAdapter(t)
		queryErr := errors.New("relation \"orders\" does not exist")
		mockPool.ExpectQuery(regexp.QuoteMeta(ordersSQL)).WillReturnError(queryErr)

		_, err := a.CaptureState(context.Background())
		assert.ErrorIs(t, err, queryErr)
		assert.ErrorContains(t, err, `backend query "orders" failed`)
	})
}
