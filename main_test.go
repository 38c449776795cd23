package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mechat/internal/client"
	"mechat/internal/commands"
	"mechat/internal/config"
	"mechat/internal/models"
	"mechat/internal/realtime"

	"github.com/stretchr/testify/require"
)

func TestIntegration(t *testing.T) {
	dir := t.TempDir()
	opsAddr := "127.0.0.1:8888"
	apiAddr := "127.0.0.1:8887"
	baseURL := "http://" + apiAddr

	t.Setenv("MECHAT_DB", filepath.Join(dir, "integration_test.db"))
	t.Setenv("UPLOADS_PATH", filepath.Join(dir, "uploads"))
	t.Setenv("OPS_ADDR", opsAddr)
	t.Setenv("API_ADDR", apiAddr)
	t.Setenv("API_URL", baseURL)
	t.Setenv("JWT_SECRET", "very-secure-test-secret")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && err != context.Canceled {
				t.Errorf("Server error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	waitForServer(t, "http://"+opsAddr+"/metrics", 20)
	waitForServer(t, baseURL+"/api/health", 20)

	// Operators create accounts on the ops listener.
	cfg, err := config.Load(true)
	require.NoError(t, err)
	require.NoError(t, commands.AddUser("Operator", "operator@example.com", "operator-password", cfg))

	reqCtx := t.Context()
	alice := client.NewAPI(baseURL, nil)
	aliceAuth, err := alice.Register(reqCtx, "Alice", "alice@example.com", "alice-password")
	require.NoError(t, err)

	bob := client.NewAPI(baseURL, nil)
	_, err = bob.Register(reqCtx, "Bob", "bob@example.com", "bob-password")
	require.NoError(t, err)

	// Same email again is a conflict.
	_, err = client.NewAPI(baseURL, nil).Register(reqCtx, "Bob 2", "bob@example.com", "x")
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)

	bobAuth, err := bob.Login(reqCtx, "bob@example.com", "bob-password")
	require.NoError(t, err)

	users, err := alice.SearchUsers(reqCtx, "operator")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "Operator", users[0].Name)

	c, err := alice.AccessChat(reqCtx, bobAuth.ID)
	require.NoError(t, err)

	// Bob listens on the relay while Alice sends over REST and relays.
	rtCfg := realtime.Config{
		URL:               "ws://" + apiAddr + "/ws",
		Token:             bobAuth.Token,
		AckTimeout:        time.Second,
		ReconnectDelay:    50 * time.Millisecond,
		ReconnectAttempts: 3,
	}
	bobRT := realtime.NewManager(rtCfg)
	defer func() { _ = bobRT.Disconnect() }()
	bobSock, err := bobRT.Connect(reqCtx, bobAuth.ID)
	require.NoError(t, err)

	received := make(chan models.Message, 4)
	bobSock.On(models.EventMessageReceived, func(data json.RawMessage) {
		var m models.Message
		if err := json.Unmarshal(data, &m); err == nil {
			received <- m
		}
	})

	rtCfg.Token = aliceAuth.Token
	aliceRT := realtime.NewManager(rtCfg)
	defer func() { _ = aliceRT.Disconnect() }()
	aliceSock, err := aliceRT.Connect(reqCtx, aliceAuth.ID)
	require.NoError(t, err)

	msg, err := alice.SendMessage(reqCtx, c.ID, "hello over **REST**")
	require.NoError(t, err)
	require.NotNil(t, msg.Chat)
	require.NoError(t, aliceSock.Emit(models.EventNewMessage, msg))

	select {
	case got := <-received:
		require.Equal(t, msg.ID, got.ID)
		require.Equal(t, aliceAuth.ID, got.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("message was not relayed")
	}

	history, err := bob.ListMessages(reqCtx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Contains(t, history[0].ContentHTML, "<strong>REST</strong>")

	// Relay activity shows up on the metrics endpoint.
	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", opsAddr))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `mechat_relay_emissions_total{room="personal"} 1`), string(body))

	require.NoError(t, alice.Logout(reqCtx))
	_, err = alice.ListChats(reqCtx)
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func waitForServer(t *testing.T, url string, attempts int) {
	t.Helper()
	for range attempts {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not start", url)
}
