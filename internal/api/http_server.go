package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"locamove/internal/config"
	"locamove/internal/database"
	"locamove/internal/domain"
	"locamove/internal/export"
	"locamove/internal/metrics"
	"locamove/internal/models"
	"locamove/internal/pricing"
	"locamove/internal/service"

	"golang.org/x/time/rate"
)

// HTTPServer exposes the booking API over HTTP.
type HTTPServer struct {
	cfg      config.APIConfig
	bookings domain.BookingService
	server   *http.Server
	auth     *HTTPAuth
}

// NewHTTPServer wires the API. The quotes repository, when present, backs the
// shared per-client request counter so limits hold across instances.
func NewHTTPServer(cfg config.APIConfig, booking config.BookingConfig, bookings domain.BookingService, quotes domain.QuoteRepository) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, bookings: bookings}
	srv.auth = NewHTTPAuth(cfg, booking, quotes)

	mux.HandleFunc("/api/v1/quote", srv.handleQuote)
	mux.HandleFunc("/api/v1/bookings", srv.handleBookings)
	mux.HandleFunc("/api/v1/bookings/", srv.handleBookingByPath)
	mux.HandleFunc("/api/v1/catalog", srv.handleCatalog)
	mux.HandleFunc("/api/v1/catalog/", srv.handleCatalogByPath)
	mux.HandleFunc("/api/v1/export/bookings", srv.handleExport)

	handler := loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	log.Printf("HTTP API listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type quoteRequest struct {
	CatalogID int64    `json:"catalog_id"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date,omitempty"`
	Options   []string `json:"options,omitempty"`
	Discount  float64  `json:"discount,omitempty"`
}

func (s *HTTPServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("quote")

	var body quoteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start, end, err := parsePeriod(body.StartDate, body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	quote, err := s.bookings.Quote(r.Context(), body.CatalogID, start, end, body.Options, body.Discount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

type createBookingRequest struct {
	UserID    int64    `json:"user_id"`
	UserName  string   `json:"user_name"`
	Phone     string   `json:"phone,omitempty"`
	CatalogID int64    `json:"catalog_id"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date,omitempty"`
	Options   []string `json:"options,omitempty"`
	Discount  float64  `json:"discount,omitempty"`
	Comment   string   `json:"comment,omitempty"`
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createBooking(w, r)
	case http.MethodGet:
		s.listBookings(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")

	var body createBookingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start, end, err := parsePeriod(body.StartDate, body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	booking := &models.Booking{
		UserID:    body.UserID,
		UserName:  body.UserName,
		Phone:     body.Phone,
		CatalogID: body.CatalogID,
		StartDate: start,
		EndDate:   end,
		Options:   body.Options,
		Discount:  body.Discount,
		Comment:   body.Comment,
	}

	if err := s.bookings.CreateBooking(r.Context(), booking); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) listBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("list_bookings")

	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		bookings, err := s.bookings.GetUserBookings(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
		return
	}

	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}

	bookings, err := s.bookings.GetBookingsByDateRange(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

// handleBookingByPath dispatches /api/v1/bookings/{id}[/{action}].
func (s *HTTPServer) handleBookingByPath(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/bookings/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.getBooking(w, r, parts[0])
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	switch parts[1] {
	case "cancel":
		s.cancelBooking(w, r, id)
	case "status":
		s.changeStatus(w, r, id)
	case "reschedule":
		s.rescheduleBooking(w, r, id)
	case "options":
		s.changeOptions(w, r, id)
	case "discount":
		s.applyDiscount(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) getBooking(w http.ResponseWriter, r *http.Request, idOrRef string) {
	metrics.IncHTTP("get_booking")

	var booking *models.Booking
	var err error
	if id, perr := strconv.ParseInt(idOrRef, 10, 64); perr == nil {
		booking, err = s.bookings.GetBooking(r.Context(), id)
	} else {
		booking, err = s.bookings.GetBookingByReference(r.Context(), idOrRef)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

type cancelRequest struct {
	Version int64  `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

func (s *HTTPServer) cancelBooking(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("cancel_booking")

	var body cancelRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	booking, err := s.bookings.RequestCancellation(r.Context(), id, body.Version, body.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

type statusRequest struct {
	Version int64  `json:"version"`
	Action  string `json:"action"`
}

func (s *HTTPServer) changeStatus(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("change_status")

	var body statusRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var err error
	switch body.Action {
	case "confirm":
		err = s.bookings.ConfirmBooking(r.Context(), id, body.Version)
	case "start":
		err = s.bookings.StartBooking(r.Context(), id, body.Version)
	case "complete":
		err = s.bookings.CompleteBooking(r.Context(), id, body.Version)
	case "reject":
		err = s.bookings.RejectBooking(r.Context(), id, body.Version)
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

type rescheduleRequest struct {
	Version   int64  `json:"version"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date,omitempty"`
}

func (s *HTTPServer) rescheduleBooking(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("reschedule_booking")

	var body rescheduleRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start, end, err := parsePeriod(body.StartDate, body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	booking, err := s.bookings.RescheduleBooking(r.Context(), id, body.Version, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

type optionsRequest struct {
	Version int64    `json:"version"`
	Options []string `json:"options"`
}

func (s *HTTPServer) changeOptions(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("change_options")

	var body optionsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	booking, err := s.bookings.ChangeBookingOptions(r.Context(), id, body.Version, body.Options)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

type discountRequest struct {
	Version  int64   `json:"version"`
	Discount float64 `json:"discount"`
}

func (s *HTTPServer) applyDiscount(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("apply_discount")

	var body discountRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	booking, err := s.bookings.ApplyDiscount(r.Context(), id, body.Version, body.Discount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("catalog")

	items := s.bookings.Catalog()
	sort.Slice(items, func(i, j int) bool {
		if items[i].SortOrder == items[j].SortOrder {
			return items[i].ID < items[j].ID
		}
		return items[i].SortOrder < items[j].SortOrder
	})

	writeJSON(w, http.StatusOK, map[string]any{"catalog": items})
}

// handleCatalogByPath dispatches /api/v1/catalog/{id}/availability.
func (s *HTTPServer) handleCatalogByPath(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/catalog/"
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/"), "/")

	if len(parts) != 2 || parts[1] != "availability" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("availability")

	catalogID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid catalog id")
		return
	}

	start, end, err := parsePeriod(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	availability, err := s.bookings.Availability(r.Context(), catalogID, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, availability)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	metrics.IncHTTP("export_bookings")

	// Без явного диапазона выгружаем окно вокруг текущей даты
	from := time.Now().AddDate(0, -models.DefaultExportRangeMonthsBefore, 0)
	to := time.Now().AddDate(0, models.DefaultExportRangeMonthsAfter, 0)

	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = parseDate(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = parseDate(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
	}

	bookings, err := s.bookings.GetBookingsByDateRange(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	file, err := export.BookingsWorkbook(bookings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="bookings.xlsx"`)
	w.WriteHeader(http.StatusOK)
	if err := file.Write(w); err != nil {
		log.Printf("export write: %v", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// parseDate accepts YYYY-MM-DD or RFC3339.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parsePeriod(startRaw, endRaw string) (time.Time, *time.Time, error) {
	start, err := parseDate(startRaw)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid start_date; expected YYYY-MM-DD or RFC3339")
	}

	if strings.TrimSpace(endRaw) == "" {
		return start, nil, nil
	}
	end, err := parseDate(endRaw)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("invalid end_date; expected YYYY-MM-DD or RFC3339")
	}
	return start, &end, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking or catalog item not found")
	case errors.Is(err, database.ErrNotAvailable):
		writeError(w, http.StatusConflict, "not available for the requested period")
	case errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "booking was modified concurrently")
	case errors.Is(err, pricing.ErrNotCancellable):
		writeError(w, http.StatusUnprocessableEntity, "booking can no longer be cancelled")
	case errors.Is(err, pricing.ErrInvalidTransition),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrBookingFinalized):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, database.ErrPastDate),
		errors.Is(err, database.ErrDateTooFar),
		errors.Is(err, pricing.ErrInvalidPeriod),
		errors.Is(err, pricing.ErrUnknownOption),
		errors.Is(err, service.ErrNegativeDiscount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP
// endpoints. Two limiters apply: a local token bucket per process, and a
// shared windowed counter in the quote repository when one is wired.
type HTTPAuth struct {
	cfg         config.APIConfig
	clients     map[string]config.APIClientKey
	limiters    sync.Map // map[string]*rate.Limiter
	quotes      domain.QuoteRepository
	limitShared int
	limitWindow time.Duration
}

func NewHTTPAuth(cfg config.APIConfig, booking config.BookingConfig, quotes domain.QuoteRepository) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{
		cfg:         cfg,
		clients:     m,
		quotes:      quotes,
		limitShared: booking.RateLimitRequests,
		limitWindow: time.Duration(booking.RateLimitWindow) * time.Second,
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if err == errPermissionDenied {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

var errPermissionDenied = fmt.Errorf("permission denied")

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKeyHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = "x-api-key"
	}
	extraHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderExtra))
	if extraHeader == "" {
		extraHeader = "x-api-extra"
	}

	apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader))
	extra := strings.TrimSpace(r.Header.Get(extraHeader))
	if apiKey == "" || extra == "" {
		return fmt.Errorf("missing api key headers")
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return fmt.Errorf("invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return fmt.Errorf("invalid extra header")
	}

	if err := a.checkPermissions(client, r); err != nil {
		return err
	}

	return nil
}

func (a *HTTPAuth) checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermissionHTTP(r)
	if required == "" {
		return nil
	}
	if len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/api/v1/quote":
		return "read:pricing"
	case path == "/api/v1/catalog" || strings.HasPrefix(path, "/api/v1/catalog/"):
		return "read:catalog"
	case strings.HasPrefix(path, "/api/v1/export/"):
		return "read:bookings"
	case strings.HasPrefix(path, "/api/v1/bookings"):
		if r.Method == http.MethodGet {
			return "read:bookings"
		}
		return "write:bookings"
	}
	return ""
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	key := a.clientKey(r)

	if a.cfg.RateLimit.RPS > 0 {
		if !a.getLimiter(key).Allow() {
			return fmt.Errorf("rate limit exceeded")
		}
	}

	if a.quotes != nil && a.limitShared > 0 {
		allowed, err := a.quotes.CheckRateLimit(r.Context(), key, a.limitShared, a.limitWindow)
		if err != nil {
			// Счетчик недоступен; локального лимитера достаточно
			log.Printf("rate limit check: %v", err)
			return nil
		}
		if !allowed {
			return fmt.Errorf("rate limit exceeded")
		}
	}

	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	apiKeyHeader := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if apiKeyHeader == "" {
		apiKeyHeader = "x-api-key"
	}

	if apiKey := strings.TrimSpace(r.Header.Get(apiKeyHeader)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)
		log.Printf("http method=%s path=%s status=%d dur=%s", r.Method, r.URL.Path, recorder.status, dur)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
