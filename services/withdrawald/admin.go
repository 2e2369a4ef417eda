package withdrawald

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/text/unicode/norm"

	"creditchain/core/state"
	"creditchain/crypto"
	"creditchain/native/withdrawals"
	"creditchain/observability"
	"creditchain/services/withdrawald/audit"
)

const maxBodyBytes = 1 << 20

// AdminServer exposes HTTP endpoints for operator controls.
type AdminServer struct {
	driver    *Driver
	hub       *Hub
	archive   *audit.Archive
	reportDir string
	auth      *Authenticator
	limiter   *RateLimiter
	health    *HealthReporter
	logger    *slog.Logger
	handler   http.Handler
}

// AdminOptions wires the optional collaborators of the admin API.
type AdminOptions struct {
	Hub       *Hub
	Archive   *audit.Archive
	ReportDir string
	Auth      *Authenticator
	Limiter   *RateLimiter
	Health    *HealthReporter
	Logger    *slog.Logger
}

// NewAdminServer constructs the router.
func NewAdminServer(driver *Driver, opts AdminOptions) *AdminServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &AdminServer{
		driver:    driver,
		hub:       opts.Hub,
		archive:   opts.Archive,
		reportDir: opts.ReportDir,
		auth:      opts.Auth,
		limiter:   opts.Limiter,
		health:    opts.Health,
		logger:    logger.With("component", "admin"),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(observe)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Get("/v1/status", s.handleStatus)
		r.Get("/v1/withdrawals", s.handleList)
		r.Post("/v1/withdrawals", s.handleSubmit)
		r.Get("/v1/withdrawals/{id}", s.handleGet)
		r.Post("/v1/pause", s.handlePause)
		r.Post("/v1/resume", s.handleResume)
		r.Post("/v1/supply", s.handleSupply)
		r.Post("/v1/reports", s.handleReport)
		if s.hub != nil {
			r.Handle("/v1/events", s.hub)
		}
	})

	s.handler = otelhttp.NewHandler(r, "withdrawald.admin")
	return s
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.AdminMetrics().Observe(route, r.Method, status, time.Since(start))
	})
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil && !s.health.Serving() {
		http.Error(w, "halted", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := s.driver.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// RequestView is the JSON rendering of a withdrawal request.
type RequestView struct {
	ID             string             `json:"id"`
	Seq            uint64             `json:"seq"`
	Owner          string             `json:"owner"`
	Amount         uint64             `json:"amount"`
	Destination    string             `json:"destination"`
	Status         withdrawals.Status `json:"status"`
	TxIndex        *uint64            `json:"txIndex,omitempty"`
	PooledAt       uint64             `json:"pooledAt,omitempty"`
	BroadcastAt    uint64             `json:"broadcastAt,omitempty"`
	ExpiryDeadline uint64             `json:"expiryDeadline,omitempty"`
	CoreHeight     uint64             `json:"coreHeightAtBroadcast,omitempty"`
	CompletedAt    uint64             `json:"completedAt,omitempty"`
	Attempts       uint32             `json:"attempts"`
	CreatedAt      uint64             `json:"createdAt"`
	UpdatedAt      uint64             `json:"updatedAt"`
}

func viewOf(req *withdrawals.Request) RequestView {
	view := RequestView{
		ID:             req.ID.String(),
		Seq:            req.Seq,
		Owner:          crypto.FormatOwner(req.Owner),
		Amount:         req.Amount,
		Destination:    hex.EncodeToString(req.Destination),
		Status:         req.Status,
		PooledAt:       req.PooledAt,
		BroadcastAt:    req.BroadcastAt,
		ExpiryDeadline: req.ExpiryDeadline,
		CoreHeight:     req.CoreHeightAtBroadcast,
		CompletedAt:    req.CompletedAt,
		Attempts:       req.Attempts,
		CreatedAt:      req.CreatedAt,
		UpdatedAt:      req.UpdatedAt,
	}
	if req.HasIndex {
		index := req.TxIndex
		view.TxIndex = &index
	}
	return view
}

func (s *AdminServer) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := withdrawals.StatusQueued
	if raw := query.Get("status"); raw != "" {
		parsed, err := withdrawals.ParseStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		status = parsed
	}
	after, err := parseUintParam(query.Get("after"))
	if err != nil {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}
	limit, err := parseUintParam(query.Get("limit"))
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	requests, err := s.driver.List(status, after, int(limit))
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]RequestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, viewOf(req))
	}
	resp := map[string]any{"status": status, "requests": views}
	if len(requests) > 0 {
		resp["next"] = requests[len(requests)-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *AdminServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := withdrawals.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.driver.Request(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(req))
}

// SubmitRequest is the body of POST /v1/withdrawals.
type SubmitRequest struct {
	Owner       string `json:"owner"`
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination"`
}

func (s *AdminServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitRequest
	if err := decodeBody(w, r, &body); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	owner, err := parseOwner(body.Owner)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	destination, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(body.Destination), "0x"))
	if err != nil {
		http.Error(w, "destination must be hex", http.StatusBadRequest)
		return
	}
	req, err := s.driver.Submit(r.Context(), withdrawals.Intent{Owner: owner, Amount: body.Amount, Destination: destination})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(req))
}

func (s *AdminServer) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.driver.Pause()
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.driver.Resume()
	w.WriteHeader(http.StatusNoContent)
}

type supplyRequest struct {
	Delta string `json:"delta"`
}

func (s *AdminServer) handleSupply(w http.ResponseWriter, r *http.Request) {
	var body supplyRequest
	if err := decodeBody(w, r, &body); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	delta, ok := new(big.Int).SetString(strings.TrimSpace(body.Delta), 10)
	if !ok {
		http.Error(w, "delta must be a base-10 integer", http.StatusBadRequest)
		return
	}
	total, err := s.driver.AdjustSupply(r.Context(), delta)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"supply": total.String()})
}

type reportRequest struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

func (s *AdminServer) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "audit archive disabled", http.StatusNotImplemented)
		return
	}
	var body reportRequest
	if err := decodeBody(w, r, &body); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if body.To == 0 {
		body.To = s.driver.Height()
	}
	if body.To < body.From {
		http.Error(w, "to must not precede from", http.StatusBadRequest)
		return
	}
	rows, err := s.archive.Settlements(r.Context(), body.From, body.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	files, err := audit.WriteSettlementReport(s.reportDir, uuid.New(), rows)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("settlement report written", "run", files.RunID.String(), "rows", files.Count, "from", body.From, "to", body.To)
	writeJSON(w, http.StatusOK, files)
}

func (s *AdminServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, withdrawals.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, withdrawals.ErrInvalidAmount),
		errors.Is(err, withdrawals.ErrOwnerRequired),
		errors.Is(err, withdrawals.ErrDestinationRequired),
		errors.Is(err, ErrZeroSupplyDelta),
		errors.Is(err, state.ErrSupplyUnderflow):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrHalted):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("admin request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func parseOwner(raw string) ([]byte, error) {
	trimmed := strings.ToLower(norm.NFKC.String(strings.TrimSpace(raw)))
	if trimmed == "" {
		return nil, withdrawals.ErrOwnerRequired
	}
	if strings.HasPrefix(trimmed, string(crypto.IdentityPrefix)+"1") {
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid owner: %w", err)
		}
		if addr.Prefix() != crypto.IdentityPrefix {
			return nil, fmt.Errorf("owner must use the %s prefix", crypto.IdentityPrefix)
		}
		return addr.Bytes(), nil
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(trimmed, "0x"))
	if err != nil {
		return nil, fmt.Errorf("owner must be a bech32 identity or hex")
	}
	return decoded, nil
}

func parseUintParam(raw string) (uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
