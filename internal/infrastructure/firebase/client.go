package firebase

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"bract/internal/domain/notification"
)

const fcmBatchLimit = 500

// TokenDeactivator is called to mark an invalid FCM token as inactive.
// Provided by the caller (e.g. service layer) to avoid coupling to the repository.
type TokenDeactivator func(ctx context.Context, token string) error

type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Client implements notification.Messenger using Firebase Cloud Messaging
type Client struct {
	sender         multicastSender
	deactivator    TokenDeactivator
	isInvalidToken func(error) bool
	log            *zap.Logger
}

var _ notification.Messenger = (*Client)(nil)

// NewClient initializes a Firebase app and returns an FCM client.
// deactivator is called when an invalid/unregistered token is detected; may be nil.
func NewClient(ctx context.Context, credentialsFile string, deactivator TokenDeactivator, log *zap.Logger) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return &Client{
		sender:         msgClient,
		deactivator:    deactivator,
		isInvalidToken: invalidToken,
		log:            log.With(zap.String("component", "fcm")),
	}, nil
}

func invalidToken(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err)
}

// SendMulticast sends a push notification to multiple device tokens.
// Automatically batches into chunks of 500 (Firebase API limit). Tokens FCM
// rejects as unregistered are deactivated and counted as Invalid.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) (notification.MulticastResult, error) {
	var result notification.MulticastResult
	if len(tokens) == 0 {
		return result, nil
	}

	for _, batch := range chunkTokens(tokens, fcmBatchLimit) {
		msg := &messaging.MulticastMessage{
			Tokens: batch,
			Notification: &messaging.Notification{
				Title: title,
				Body:  body,
			},
			Data: data,
		}

		resp, err := c.sender.SendEachForMulticast(ctx, msg)
		if err != nil {
			return result, fmt.Errorf("failed to send FCM multicast: %w", err)
		}

		result.Success += resp.SuccessCount
		if resp.FailureCount > 0 {
			invalid := c.handleMulticastFailures(ctx, batch, resp)
			result.Invalid += invalid
			result.Failure += resp.FailureCount - invalid
		}
	}

	c.log.Info("FCM multicast sent",
		zap.Int("success", result.Success),
		zap.Int("invalid", result.Invalid),
		zap.Int("failure", result.Failure),
	)
	return result, nil
}

// handleMulticastFailures deactivates rejected tokens and returns how many
// there were.
func (c *Client) handleMulticastFailures(ctx context.Context, tokens []string, resp *messaging.BatchResponse) int {
	invalid := 0
	for i, sendResp := range resp.Responses {
		if sendResp == nil || sendResp.Error == nil || i >= len(tokens) {
			continue
		}
		if c.isInvalidToken(sendResp.Error) {
			invalid++
			c.log.Info("invalid FCM token, deactivating", zap.Int("index", i), zap.Error(sendResp.Error))
			c.deactivateToken(ctx, tokens[i])
		} else {
			c.log.Warn("FCM send error", zap.Int("index", i), zap.Error(sendResp.Error))
		}
	}
	return invalid
}

func (c *Client) deactivateToken(ctx context.Context, token string) {
	if c.deactivator == nil {
		return
	}
	if err := c.deactivator(ctx, token); err != nil {
		c.log.Error("failed to deactivate FCM token", zap.Error(err))
	}
}

func chunkTokens(tokens []string, size int) [][]string {
	var chunks [][]string
	for i := 0; i < len(tokens); i += size {
		end := i + size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, tokens[i:end])
	}
	return chunks
}
