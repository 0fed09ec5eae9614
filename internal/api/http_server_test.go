package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"locamove/internal/config"
	"locamove/internal/database"
	"locamove/internal/domain"
	"locamove/internal/events"
	"locamove/internal/models"
	"locamove/internal/pricing"
	"locamove/internal/repository"
	"locamove/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	db.SetCatalog([]models.CatalogItem{
		{ID: 1, Name: "Cargo Van", Kind: models.KindVehicle, DailyRate: 100, TotalQuantity: 2, SortOrder: 1, IsActive: true},
		{ID: 2, Name: "Moving Crew", Kind: models.KindMoving, DailyRate: 500, TotalQuantity: 1, SortOrder: 2, IsActive: true},
	})
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, cfg config.APIConfig) (*HTTPServer, *httptest.Server) {
	return newTestServerWithQuotes(t, cfg, config.BookingConfig{MaxBookingDays: 365}, nil)
}

func newTestServerWithQuotes(t *testing.T, cfg config.APIConfig, booking config.BookingConfig, quotes domain.QuoteRepository) (*HTTPServer, *httptest.Server) {
	t.Helper()
	db := newTestDB(t)
	logger := zerolog.New(io.Discard)
	svc := service.NewBookingService(db, pricing.DefaultRuleSet(), events.NewEventBus(), nil, quotes, booking, &logger)
	server := NewHTTPServer(cfg, booking, svc, quotes)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)
	return server, ts
}

func openTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	_, ts := newTestServer(t, config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth:    config.APIAuthConfig{Enabled: false},
	})
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func createTestBooking(t *testing.T, ts *httptest.Server, start time.Time, days int) models.Booking {
	t.Helper()
	end := start.AddDate(0, 0, days)
	body := fmt.Sprintf(`{"user_id":1,"user_name":"tester","catalog_id":1,"start_date":%q,"end_date":%q,"options":["gps"]}`,
		start.Format(time.RFC3339), end.Format(time.RFC3339))

	resp := postJSON(t, ts.URL+"/api/v1/bookings", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var booking models.Booking
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&booking))
	return booking
}

func TestQuoteEndpoint(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	end := start.AddDate(0, 0, 3)
	body := fmt.Sprintf(`{"catalog_id":1,"start_date":%q,"end_date":%q,"options":["insurance","gps"]}`,
		start.Format(time.RFC3339), end.Format(time.RFC3339))

	resp := postJSON(t, ts.URL+"/api/v1/quote", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var quote models.Quote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quote))
	assert.Equal(t, int64(3), quote.DurationUnits)
	assert.Equal(t, float64(300), quote.Subtotal)
	assert.Equal(t, float64(69), quote.OptionsPrice)
	assert.Equal(t, float64(369), quote.TotalAmount)
}

func TestQuoteUnknownOption(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	body := fmt.Sprintf(`{"catalog_id":1,"start_date":%q,"options":["jetpack"]}`, start.Format(time.RFC3339))

	resp := postJSON(t, ts.URL+"/api/v1/quote", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuoteUnknownCatalog(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	body := fmt.Sprintf(`{"catalog_id":99,"start_date":%q}`, start.Format(time.RFC3339))

	resp := postJSON(t, ts.URL+"/api/v1/quote", body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateAndGetBooking(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	booking := createTestBooking(t, ts, start, 3)

	assert.NotZero(t, booking.ID)
	assert.NotEmpty(t, booking.Reference)
	assert.Equal(t, models.StatusPending, booking.Status)
	assert.Equal(t, float64(324), booking.TotalAmount)

	t.Run("ByID", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/bookings/%d", ts.URL, booking.ID))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got models.Booking
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, booking.Reference, got.Reference)
	})

	t.Run("ByReference", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/bookings/" + booking.Reference)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("NotFound", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/bookings/99999")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCreateBookingPastDate(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, -5)
	body := fmt.Sprintf(`{"user_id":1,"user_name":"tester","catalog_id":1,"start_date":%q}`, start.Format(time.RFC3339))

	resp := postJSON(t, ts.URL+"/api/v1/bookings", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateBookingInvalidJSON(t *testing.T) {
	ts := openTestServer(t)
	resp := postJSON(t, ts.URL+"/api/v1/bookings", "not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusTransitions(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	booking := createTestBooking(t, ts, start, 2)

	statusURL := fmt.Sprintf("%s/api/v1/bookings/%d/status", ts.URL, booking.ID)

	resp := postJSON(t, statusURL, `{"version":1,"action":"confirm"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var confirmed models.Booking
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&confirmed))
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.Equal(t, int64(2), confirmed.Version)

	t.Run("InvalidTransition", func(t *testing.T) {
		// already confirmed, confirm again
		resp := postJSON(t, statusURL, `{"version":2,"action":"confirm"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		resp := postJSON(t, statusURL, `{"version":1,"action":"start"}`)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("UnknownAction", func(t *testing.T) {
		resp := postJSON(t, statusURL, `{"version":2,"action":"explode"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("StartAndComplete", func(t *testing.T) {
		resp := postJSON(t, statusURL, `{"version":2,"action":"start"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = postJSON(t, statusURL, `{"version":3,"action":"complete"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var done models.Booking
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&done))
		assert.Equal(t, models.StatusCompleted, done.Status)
	})
}

func TestRescheduleEndpoint(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	booking := createTestBooking(t, ts, start, 2)

	newStart := time.Now().AddDate(0, 0, 15)
	newEnd := newStart.AddDate(0, 0, 5)
	body := fmt.Sprintf(`{"version":1,"start_date":%q,"end_date":%q}`,
		newStart.Format(time.RFC3339), newEnd.Format(time.RFC3339))

	resp := postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%d/reschedule", ts.URL, booking.ID), body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Booking
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, int64(5), updated.DurationUnits)
	assert.Equal(t, float64(500), updated.Subtotal)
	assert.Equal(t, float64(540), updated.TotalAmount)
}

func TestOptionsAndDiscountEndpoints(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	booking := createTestBooking(t, ts, start, 2)

	resp := postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%d/options", ts.URL, booking.ID),
		`{"version":1,"options":["child_seat"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.Booking
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, float64(25), updated.OptionsPrice)
	assert.Equal(t, float64(225), updated.TotalAmount)

	resp = postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%d/discount", ts.URL, booking.ID),
		`{"version":2,"discount":100}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
	assert.Equal(t, float64(125), updated.TotalAmount)

	t.Run("NegativeDiscount", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%d/discount", ts.URL, booking.ID),
			`{"version":3,"discount":-5}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCancelEndpoint(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().Add(10 * 24 * time.Hour)
	booking := createTestBooking(t, ts, start, 3)

	resp := postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%d/cancel", ts.URL, booking.ID),
		`{"version":1,"reason":"plans changed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelled models.Booking
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cancelled))
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	// 10 days out: 90% tier
	assert.InDelta(t, 0.9*booking.TotalAmount, cancelled.RefundAmount, 0.001)
	assert.Equal(t, "plans changed", cancelled.CancelReason)

	t.Run("AlreadyCancelled", func(t *testing.T) {
		resp := postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%d/cancel", ts.URL, booking.ID),
			`{"version":2,"reason":"again"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestCancelTooLate(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().Add(12 * time.Hour)
	booking := createTestBooking(t, ts, start, 1)

	resp := postJSON(t, fmt.Sprintf("%s/api/v1/bookings/%d/cancel", ts.URL, booking.ID),
		`{"version":1,"reason":"late"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestListBookings(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	createTestBooking(t, ts, start, 2)

	from := start.AddDate(0, 0, -1).Format("2006-01-02")
	to := start.AddDate(0, 0, 5).Format("2006-01-02")
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/bookings?from=%s&to=%s", ts.URL, from, to))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Bookings []models.Booking `json:"bookings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Bookings, 1)

	t.Run("ByUser", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/bookings?user_id=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Bookings []models.Booking `json:"bookings"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Len(t, body.Bookings, 1)
		assert.Equal(t, int64(1), body.Bookings[0].UserID)
	})

	t.Run("ByUserNoBookings", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/bookings?user_id=999")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Bookings []models.Booking `json:"bookings"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Empty(t, body.Bookings)
	})
}

func TestAvailabilityEndpoint(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	createTestBooking(t, ts, start, 2)

	from := start.Format("2006-01-02")
	to := start.AddDate(0, 0, 2).Format("2006-01-02")
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/catalog/1/availability?from=%s&to=%s", ts.URL, from, to))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var availability models.Availability
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&availability))
	assert.Equal(t, int64(1), availability.CatalogID)
	assert.Equal(t, int64(1), availability.Booked)
	assert.Equal(t, int64(1), availability.Available)

	t.Run("UnknownCatalog", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/api/v1/catalog/99/availability?from=%s&to=%s", ts.URL, from, to))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("UnknownAction", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/catalog/1/history")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCatalogEndpoint(t *testing.T) {
	ts := openTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/catalog")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Catalog []models.CatalogItem `json:"catalog"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Catalog, 2)
	assert.Equal(t, "Cargo Van", body.Catalog[0].Name)
}

func TestExportEndpoint(t *testing.T) {
	ts := openTestServer(t)

	start := time.Now().AddDate(0, 0, 10)
	createTestBooking(t, ts, start, 2)

	from := start.AddDate(0, 0, -1).Format("2006-01-02")
	to := start.AddDate(0, 0, 5).Format("2006-01-02")
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/export/bookings?from=%s&to=%s", ts.URL, from, to))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	t.Run("DefaultRange", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/export/bookings")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "spreadsheetml")
	})
}

func TestAuth(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "valid-key", Extra: "valid-extra", Permissions: []string{"read:catalog"}},
			},
		},
	}
	_, ts := newTestServer(t, cfg)

	t.Run("MissingHeaders", func(t *testing.T) {
		req, _ := http.NewRequest("GET", ts.URL+"/api/v1/catalog", http.NoBody)
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		req, _ := http.NewRequest("GET", ts.URL+"/api/v1/catalog", http.NoBody)
		req.Header.Set("x-api-key", "wrong")
		req.Header.Set("x-api-extra", "valid-extra")
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ValidKey", func(t *testing.T) {
		req, _ := http.NewRequest("GET", ts.URL+"/api/v1/catalog", http.NoBody)
		req.Header.Set("x-api-key", "valid-key")
		req.Header.Set("x-api-extra", "valid-extra")
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("WrongPermission", func(t *testing.T) {
		req, _ := http.NewRequest("GET", ts.URL+"/api/v1/bookings/1", http.NoBody)
		req.Header.Set("x-api-key", "valid-key")
		req.Header.Set("x-api-extra", "valid-extra")
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
		RateLimit: config.APIRateLimitConfig{
			RPS:   1,
			Burst: 1,
		},
	}
	_, ts := newTestServer(t, cfg)

	resp1, err1 := http.Get(ts.URL + "/api/v1/catalog")
	require.NoError(t, err1)
	defer resp1.Body.Close()
	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2, err2 := http.Get(ts.URL + "/api/v1/catalog")
	require.NoError(t, err2)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)
}

func TestSharedRateLimit(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true, Port: 0},
	}
	booking := config.BookingConfig{MaxBookingDays: 365, RateLimitRequests: 2, RateLimitWindow: 60}
	quotes := repository.NewMemoryQuoteRepository(time.Minute)
	_, ts := newTestServerWithQuotes(t, cfg, booking, quotes)

	for i := 0; i < 2; i++ {
		resp, err := http.Get(ts.URL + "/api/v1/catalog")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(ts.URL + "/api/v1/catalog")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := openTestServer(t)

	req, _ := http.NewRequest("PUT", ts.URL+"/api/v1/quote", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPServer_Shutdown(t *testing.T) {
	server, _ := newTestServer(t, config.APIConfig{
		HTTP: config.APIHTTPConfig{Enabled: true, Port: 0},
	})

	err := server.Shutdown(context.Background())
	assert.NoError(t, err)
}
