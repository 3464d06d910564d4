package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerd/go-sql-ledger/internal/app/core/domain"
	"github.com/ledgerd/go-sql-ledger/internal/app/core/usecase"
)

// statusBandwidthLimitExceeded is what the retry-limit condition maps to, so
// monitoring can tell systemic contention apart from a plain server error.
const statusBandwidthLimitExceeded = 509

// TransferFunc is the transfer entry point the server invokes; the wiring
// layer picks the sequential or the concurrent read strategy.
type TransferFunc func(ctx context.Context, req domain.TransferRequest) error

type Server struct {
	ledger   *usecase.Ledger
	transfer TransferFunc
}

func NewServer(ledger *usecase.Ledger, transfer TransferFunc) *Server {
	return &Server{
		ledger:   ledger,
		transfer: transfer,
	}
}

// Routes assembles the router. cache may be nil, in which case the idempotency
// response cache layer is skipped.
func (s *Server) Routes(cache ResponseCache) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(RequestLogger)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	router.Group(func(r chi.Router) {
		if cache != nil {
			r.Use(Idempotency(cache))
		}
		r.Put("/api/ledger/transfer", s.Transfer)
	})
	router.Get("/api/ledger/accounts/{id}", s.GetAccount)

	return router
}

type transferRequest struct {
	TransactionKey string          `json:"transactionKey"`
	FromAccountID  int64           `json:"fromAccountId"`
	ToAccountID    int64           `json:"toAccountId"`
	Amount         decimal.Decimal `json:"amount"`
}

type transferResponse struct {
	Status string `json:"status"`
}

type accountResponse struct {
	ID      int64           `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Version int32           `json:"version"`
}

func (s *Server) Transfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	input := domain.TransferRequest{
		Key:           req.TransactionKey,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
	}
	if err := input.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.transfer(ctx, input); err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound):
			respondError(w, http.StatusNotFound, "account not found")
		case errors.Is(err, domain.ErrInsufficientFunds):
			respondError(w, http.StatusUnprocessableEntity, "can't transfer, not enough money")
		case errors.Is(err, domain.ErrRetryLimitExceeded):
			respondError(w, statusBandwidthLimitExceeded, "limit of optimistic lock retries exceeded")
		default:
			zerolog.Ctx(ctx).Error().Err(err).Msg("transfer request failed")
			respondError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	respondJSON(w, http.StatusOK, transferResponse{Status: "completed"})
}

func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := s.ledger.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Int64("account_id", id).Msg("account lookup failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, accountResponse{
		ID:      account.ID,
		Balance: account.Balance,
		Version: account.Version,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
