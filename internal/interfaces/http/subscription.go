package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"bract/internal/domain/connection"
	"bract/internal/domain/subscription"
)

// SubscriptionFetcher yields the merged subscription streams of a user.
type SubscriptionFetcher interface {
	Fetch(ctx context.Context, userID string) (*subscription.FetchResult, error)
}

type SubscriptionHandler struct {
	fetcher SubscriptionFetcher
	log     *zap.Logger
}

func NewSubscriptionHandler(fetcher SubscriptionFetcher, log *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{fetcher: fetcher, log: log.With(zap.String("handler", "subscriptions"))}
}

type SubscriptionsResponse struct {
	OutflowStreams []subscription.Stream `json:"outflow_streams"`
	Partial        bool                  `json:"partial,omitempty"`
	Errors         []StreamErrorResponse `json:"errors,omitempty"`
}

// StreamErrorResponse names a connection or stream that is missing from the
// result. Provider error details stay in the logs.
type StreamErrorResponse struct {
	ItemID   string `json:"item_id"`
	StreamID string `json:"stream_id,omitempty"`
	Error    string `json:"error"`
}

type allFailedResponse struct {
	Error  string                `json:"error"`
	Errors []StreamErrorResponse `json:"errors"`
}

// HandleSubscriptions handles GET /subscriptions
func (h *SubscriptionHandler) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	result, err := h.fetcher.Fetch(r.Context(), userID)
	switch {
	case errors.Is(err, subscription.ErrNoLinkedAccounts):
		respondError(w, http.StatusNotFound, "No Plaid items found for user")
		return
	case errors.Is(err, subscription.ErrAllConnectionsFailed):
		respondJSON(w, http.StatusBadGateway, allFailedResponse{
			Error:  "Failed to fetch subscriptions from any linked bank",
			Errors: toStreamErrors(result),
		})
		return
	case err != nil:
		respondInternal(w, h.log, "failed to fetch subscriptions", err, zap.String("user_id", userID))
		return
	}

	streams := result.Streams
	if streams == nil {
		streams = []subscription.Stream{}
	}
	respondJSON(w, http.StatusOK, SubscriptionsResponse{
		OutflowStreams: streams,
		Partial:        result.Partial(),
		Errors:         toStreamErrors(result),
	})
}

func toStreamErrors(result *subscription.FetchResult) []StreamErrorResponse {
	if result == nil {
		return nil
	}
	var out []StreamErrorResponse
	for _, e := range result.Errors {
		msg := "provider_unavailable"
		switch {
		case errors.Is(e, connection.ErrLoginRequired):
			msg = "login_required"
		case errors.Is(e, subscription.ErrUnrecognizedAmount):
			msg = "unrecognized_amount"
		case e.StreamID != "":
			msg = "unrecognized_stream"
		}
		out = append(out, StreamErrorResponse{ItemID: e.ConnectionID, StreamID: e.StreamID, Error: msg})
	}
	return out
}
