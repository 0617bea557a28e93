package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bract/internal/domain/connection"
)

// ConnectionService is the part of connection.Service the handler needs.
type ConnectionService interface {
	CreateLinkSession(ctx context.Context, userID string) (*connection.LinkSession, error)
	Link(ctx context.Context, params connection.LinkParams) (*connection.Connection, error)
	Accounts(ctx context.Context, userID string) ([]*connection.Account, error)
	Unlink(ctx context.Context, userID, connectionID string) error
}

type PlaidHandler struct {
	connections ConnectionService
	log         *zap.Logger
}

func NewPlaidHandler(connections ConnectionService, log *zap.Logger) *PlaidHandler {
	return &PlaidHandler{connections: connections, log: log.With(zap.String("handler", "plaid"))}
}

type ExchangeTokenRequest struct {
	PublicToken     string `json:"public_token"`
	InstitutionID   string `json:"institution_id"`
	InstitutionName string `json:"institution_name"`
}

type ExchangeTokenResponse struct {
	ItemID string `json:"item_id"`
}

type AccountsResponse struct {
	Accounts []*connection.Account `json:"accounts"`
}

// HandleLinkToken handles POST /plaid/link-token
func (h *PlaidHandler) HandleLinkToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	session, err := h.connections.CreateLinkSession(r.Context(), userID)
	if err != nil {
		h.log.Error("failed to create link token", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "Failed to create link token")
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// HandleExchangeToken handles POST /plaid/exchange-token
func (h *PlaidHandler) HandleExchangeToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ExchangeTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	conn, err := h.connections.Link(r.Context(), connection.LinkParams{
		UserID:          userID,
		PublicToken:     req.PublicToken,
		InstitutionID:   req.InstitutionID,
		InstitutionName: req.InstitutionName,
	})
	switch {
	case errors.Is(err, connection.ErrPublicTokenNeeded):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, connection.ErrAlreadyLinked):
		respondError(w, http.StatusConflict, "Bank connection already linked")
		return
	case err != nil:
		h.log.Error("failed to link bank connection", zap.String("user_id", userID), zap.Error(err))
		respondError(w, http.StatusBadGateway, "Failed to link bank connection")
		return
	}

	respondJSON(w, http.StatusOK, ExchangeTokenResponse{ItemID: conn.ID})
}

// HandleAccounts handles GET /plaid/accounts
func (h *PlaidHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.connections.Accounts(r.Context(), userID)
	if err != nil {
		respondInternal(w, h.log, "failed to list accounts", err, zap.String("user_id", userID))
		return
	}
	if accounts == nil {
		accounts = []*connection.Account{}
	}
	respondJSON(w, http.StatusOK, AccountsResponse{Accounts: accounts})
}

// HandleUnlink handles DELETE /plaid/items/{item_id}
func (h *PlaidHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	itemID := mux.Vars(r)["item_id"]
	if itemID == "" {
		respondError(w, http.StatusBadRequest, "item_id is required")
		return
	}

	err := h.connections.Unlink(r.Context(), userID, itemID)
	if errors.Is(err, connection.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Bank connection not found")
		return
	}
	if err != nil {
		respondInternal(w, h.log, "failed to unlink bank connection", err, zap.String("user_id", userID), zap.String("item_id", itemID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
