package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/handlers"
	"github.com/Ramsey-B/clover/pkg/clock"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/notify"
	"github.com/Ramsey-B/clover/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	t.Helper()

	host := os.Getenv("DB_HOST")
	if host == "" {
		host = "localhost"
	}
	user := os.Getenv("DB_USER_NAME")
	if user == "" {
		user = "postgres"
	}
	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		password = "postgres"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "clover"
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable", host, user, password, dbName)
	sqlxDB, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Skipf("Skipping integration test, database unavailable: %v", err)
	}
	t.Cleanup(func() { _ = sqlxDB.Close() })

	return database.NewDatabaseInstance(sqlxDB, getTestLogger())
}

func getTestClock(t *testing.T) *clock.WallClock {
	t.Helper()
	wallClock, err := clock.New("Europe/Copenhagen")
	require.NoError(t, err)
	return wallClock
}

// testServer drives the handlers through a real echo instance, the way
// requests arrive in production.
type testServer struct {
	t *testing.T
	e *echo.Echo
}

func newTestServer(t *testing.T, db database.DB) *testServer {
	t.Helper()
	logger := getTestLogger()
	wallClock := getTestClock(t)

	notifications := repositories.NewNotificationRepository(db, logger)
	appointments := repositories.NewAppointmentRepository(db, logger)
	households := repositories.NewHouseholdRepository(db, logger)
	locations := repositories.NewLocationRepository(db, logger)

	service := notify.NewService(
		db,
		notifications,
		appointments,
		households,
		notify.NewRenderer(wallClock),
		events.NewEmitter(nil, logger),
		wallClock,
		logger,
	)

	e := echo.New()
	e.HTTPErrorHandler = middleware.Error(logger)

	g := e.Group("")
	handlers.NewAppointmentHandler(service, appointments).RegisterRoutes(g)
	handlers.NewHouseholdHandler(service, households).RegisterRoutes(g)
	handlers.NewLocationHandler(locations).RegisterRoutes(g)

	return &testServer{t: t, e: e}
}

func (s *testServer) request(method, path string, body any) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reqBody = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func testPhoneNumber() string {
	return fmt.Sprintf("+45%08d", rand.Intn(100000000))
}

func (s *testServer) createHousehold(t *testing.T) models.Household {
	t.Helper()
	rec := s.request("POST", "/households", map[string]string{
		"phone_number": testPhoneNumber(),
		"locale":       "da",
	})
	require.Equal(t, 201, rec.Code, rec.Body.String())
	return decode[models.Household](t, rec)
}

func (s *testServer) createLocation(t *testing.T) models.Location {
	t.Helper()
	rec := s.request("POST", "/locations", map[string]string{"name": "Amager Depot"})
	require.Equal(t, 201, rec.Code, rec.Body.String())
	return decode[models.Location](t, rec)
}

func (s *testServer) createAppointment(t *testing.T, householdID, locationID string, start, end time.Time) models.Appointment {
	t.Helper()
	rec := s.request("POST", "/appointments", map[string]any{
		"household_id":        householdID,
		"location_id":         locationID,
		"pickup_window_start": start,
		"pickup_window_end":   end,
	})
	require.Equal(t, 201, rec.Code, rec.Body.String())
	return decode[models.Appointment](t, rec)
}
