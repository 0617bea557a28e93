package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"bract/internal/shared/auth"
)

func TestAuth(t *testing.T) {
	jwt := auth.NewJWT("test-secret", "", "")
	validToken, _ := jwt.Generate("user-1", "test@example.com", time.Hour)

	tests := []struct {
		name           string
		setupRequest   func(r *http.Request)
		expectedStatus int
		expectedUser   bool
	}{
		{
			name: "Valid Token in Cookie",
			setupRequest: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "access_token", Value: validToken})
			},
			expectedStatus: http.StatusOK,
			expectedUser:   true,
		},
		{
			name: "Valid Token in Header",
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+validToken)
			},
			expectedStatus: http.StatusOK,
			expectedUser:   true,
		},
		{
			name:           "No Token",
			setupRequest:   func(r *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "Invalid Token",
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer invalid")
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name: "Wrong Scheme",
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic "+validToken)
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				userID, ok := UserID(r.Context())
				if !ok && tt.expectedUser {
					t.Error("Expected user ID in context, got none")
				}
				if ok && userID != "user-1" {
					t.Errorf("Expected user ID user-1, got %s", userID)
				}
				if ok && Email(r.Context()) != "test@example.com" {
					t.Errorf("Expected email claim in context, got %q", Email(r.Context()))
				}
				w.WriteHeader(http.StatusOK)
			})

			handler := Auth(jwt)(nextHandler)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setupRequest(req)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
		})
	}
}

type recorderFunc func(ctx context.Context, userID, email string) error

func (f recorderFunc) Touch(ctx context.Context, userID, email string) error {
	return f(ctx, userID, email)
}

func TestRecordContact(t *testing.T) {
	var gotUser, gotEmail string
	recorder := recorderFunc(func(ctx context.Context, userID, email string) error {
		gotUser, gotEmail = userID, email
		return errors.New("storage down")
	})

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserIDKey, "user-9")
	ctx = context.WithValue(ctx, EmailKey, "nine@example.com")
	rr := httptest.NewRecorder()

	RecordContact(recorder, zap.NewNop())(next).ServeHTTP(rr, req.WithContext(ctx))

	if !called {
		t.Fatal("next handler should run even when recording fails")
	}
	if gotUser != "user-9" || gotEmail != "nine@example.com" {
		t.Errorf("Touch(%q, %q), want (user-9, nine@example.com)", gotUser, gotEmail)
	}
}
