// Package testutil provides shared helpers for the sync engine's tests:
// a sqlmock-backed GORM handle, gin test contexts, deterministic IDs, and
// polling assertions for asynchronous code.
package testutil

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockDB wraps a GORM handle over sqlmock for SQL-level expectations.
type MockDB struct {
	DB    *gorm.DB
	Mock  sqlmock.Sqlmock
	SqlDB *sql.DB
}

// NewMockDB opens a GORM connection backed by sqlmock. The connection is
// closed automatically when the test finishes.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err, "create sqlmock")

	dialector := postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err, "open gorm over sqlmock")

	t.Cleanup(func() { _ = sqlDB.Close() })

	return &MockDB{DB: gormDB, Mock: mock, SqlDB: sqlDB}
}

// ExpectationsWereMet fails the test if any declared expectation is unmet.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	require.NoError(t, m.Mock.ExpectationsWereMet(), "unmet database expectations")
}

// TestContext bundles a gin context with its response recorder.
type TestContext struct {
	Context  *gin.Context
	Recorder *httptest.ResponseRecorder
	Engine   *gin.Engine
}

// NewTestContext creates a gin test context around the given request. A nil
// request gets a bare GET /.
func NewTestContext(t *testing.T, req *http.Request) *TestContext {
	t.Helper()

	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	if req == nil {
		req = httptest.NewRequest(http.MethodGet, "/", nil)
	}
	c.Request = req

	return &TestContext{Context: c, Recorder: w, Engine: engine}
}

// SetTenantHeader sets the tenant scoping header on the request.
func (tc *TestContext) SetTenantHeader(tenantID uuid.UUID) {
	tc.Context.Request.Header.Set("X-Tenant-ID", tenantID.String())
}

// SetHeader sets an arbitrary request header.
func (tc *TestContext) SetHeader(key, value string) {
	tc.Context.Request.Header.Set(key, value)
}

// ResponseBody returns the recorded response body.
func (tc *TestContext) ResponseBody() []byte {
	return tc.Recorder.Body.Bytes()
}

// ResponseCode returns the recorded HTTP status code.
func (tc *TestContext) ResponseCode() int {
	return tc.Recorder.Code
}

// NewTestUUID derives a reproducible UUID from a seed string.
func NewTestUUID(seed string) uuid.UUID {
	namespace := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	return uuid.NewSHA1(namespace, []byte(seed))
}

// TestTenantID returns the standard tenant ID used across tests.
func TestTenantID() uuid.UUID {
	return NewTestUUID("test-tenant")
}

// TestBrandID returns the standard brand ID used across tests.
func TestBrandID() uuid.UUID {
	return NewTestUUID("test-brand")
}

// ContextWithTimeout creates a bounded context for a test step.
func ContextWithTimeout(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

// WaitForCondition polls until the condition holds or the timeout elapses.
// Returns whether the condition was met.
func WaitForCondition(t *testing.T, condition func() bool, timeout, interval time.Duration) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}
	return false
}

// RequireEventually fails the test if the condition never holds within the
// timeout.
func RequireEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...interface{}) {
	t.Helper()

	if !WaitForCondition(t, condition, timeout, interval) {
		require.Fail(t, "condition not met within timeout", msgAndArgs...)
	}
}
