// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bureau-foundation/helpdesk/lib/ref"
	"github.com/bureau-foundation/helpdesk/lib/secret"
)

// testBuffer creates a secret.Buffer from a string for testing. The buffer
// is automatically closed when the test completes.
func testBuffer(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:6167"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{})
		if err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{HomeserverURL: "://invalid"})
		if err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestLogin(t *testing.T) {
	t.Run("successful login", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/login" {
				t.Errorf("unexpected path: %s", request.URL.Path)
				writer.WriteHeader(http.StatusNotFound)
				return
			}

			var body LoginRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode request body: %v", err)
			}
			if body.Type != "m.login.password" {
				t.Errorf("unexpected login type: %s", body.Type)
			}
			if body.User != "helpdesk" {
				t.Errorf("unexpected username: %s", body.User)
			}
			if body.DeviceID != "RELAY1" {
				t.Errorf("unexpected device ID: %s", body.DeviceID)
			}

			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(AuthResponse{
				UserID:      ref.MustParseUserID("@helpdesk:test.local"),
				AccessToken: "syt_helpdesk_token",
				DeviceID:    "RELAY1",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		session, err := client.Login(context.Background(), LoginOptions{
			Username: "helpdesk",
			Password: testBuffer(t, "secret"),
			DeviceID: "RELAY1",
		})
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		defer session.Close()

		if session.UserID().String() != "@helpdesk:test.local" {
			t.Errorf("unexpected user ID: %s", session.UserID())
		}
		if session.AccessToken() != "syt_helpdesk_token" {
			t.Errorf("unexpected access token: %s", session.AccessToken())
		}
		if session.DeviceID() != "RELAY1" {
			t.Errorf("unexpected device ID: %s", session.DeviceID())
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(MatrixError{
				Code:    ErrCodeForbidden,
				Message: "Invalid password",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		_, err = client.Login(context.Background(), LoginOptions{
			Username: "helpdesk",
			Password: testBuffer(t, "wrong"),
		})
		if err == nil {
			t.Fatal("expected error for invalid credentials")
		}
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Errorf("expected M_FORBIDDEN error, got: %v", err)
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		client, _ := NewClient(ClientConfig{HomeserverURL: "http://localhost:1"})

		_, err := client.Login(context.Background(), LoginOptions{Password: testBuffer(t, "password")})
		if err == nil {
			t.Fatal("expected error for empty username")
		}

		_, err = client.Login(context.Background(), LoginOptions{Username: "helpdesk"})
		if err == nil {
			t.Fatal("expected error for nil password")
		}
	})
}

func TestSessionFromToken(t *testing.T) {
	client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:1"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	session, err := client.SessionFromToken(ref.MustParseUserID("@helpdesk:test.local"), "syt_token")
	if err != nil {
		t.Fatalf("SessionFromToken failed: %v", err)
	}
	defer session.Close()

	if session.UserID().String() != "@helpdesk:test.local" {
		t.Errorf("unexpected user ID: %s", session.UserID())
	}
	if session.AccessToken() != "syt_token" {
		t.Errorf("unexpected access token: %s", session.AccessToken())
	}
	// DeviceID is empty when created from token (not from login).
	if session.DeviceID() != "" {
		t.Errorf("expected empty device ID, got: %s", session.DeviceID())
	}
}

func TestMatrixError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := &MatrixError{
			Code:       ErrCodeForbidden,
			Message:    "Access denied",
			StatusCode: 403,
		}
		expected := "matrix: M_FORBIDDEN (403): Access denied"
		if err.Error() != expected {
			t.Errorf("unexpected error message: %s", err.Error())
		}
	})

	t.Run("IsMatrixError", func(t *testing.T) {
		err := &MatrixError{Code: ErrCodeNotFound, Message: "not found", StatusCode: 404}
		if !IsMatrixError(err, ErrCodeNotFound) {
			t.Error("IsMatrixError should match M_NOT_FOUND")
		}
		if IsMatrixError(err, ErrCodeForbidden) {
			t.Error("IsMatrixError should not match M_FORBIDDEN")
		}
	})

	t.Run("non-matrix error returns false", func(t *testing.T) {
		err := context.Canceled
		if IsMatrixError(err, ErrCodeNotFound) {
			t.Error("IsMatrixError should return false for non-matrix errors")
		}
	})
}
