package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"mechat/internal/client"
	"mechat/internal/config"
	"mechat/internal/models"
	"mechat/internal/stubs"
)

// Seed fills a running server with the demo users, a direct chat and a group.
// Users that already exist are signed in instead, so it can run repeatedly,
// though the demo messages are posted again each time.
func Seed(ctx context.Context, cfg *config.Config) error {
	apis := make([]*client.API, len(stubs.Users))
	users := make([]models.User, len(stubs.Users))

	for i, u := range stubs.Users {
		a := client.NewAPI(cfg.APIURL, nil)
		resp, err := a.Register(ctx, u.Name, u.Email, u.Password)
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			resp, err = a.Login(ctx, u.Email, u.Password)
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w. Is the server running?", u.Email, err)
		}
		apis[i], users[i] = a, resp.User
		fmt.Printf("User %-8s %s (%s)\n", u.Name, resp.ID, u.Email)
	}

	direct, err := apis[0].AccessChat(ctx, users[1].ID)
	if err != nil {
		return fmt.Errorf("seed direct chat: %w", err)
	}
	if err := post(ctx, apis, direct.ID, stubs.DirectLines); err != nil {
		return err
	}

	peers := make([]string, 0, len(users)-1)
	for _, u := range users[1:] {
		peers = append(peers, u.ID)
	}
	group, err := apis[0].CreateGroup(ctx, stubs.GroupName, peers)
	if err != nil {
		return fmt.Errorf("seed group: %w", err)
	}
	if err := post(ctx, apis, group.ID, stubs.GroupLines); err != nil {
		return err
	}

	fmt.Printf("Chats: %s (direct), %s (%s)\n", direct.ID, group.ID, group.ChatName)
	return nil
}

func post(ctx context.Context, apis []*client.API, chatID string, lines []stubs.Line) error {
	for _, l := range lines {
		if _, err := apis[l.From].SendMessage(ctx, chatID, l.Text); err != nil {
			return fmt.Errorf("seed message in %s: %w", chatID, err)
		}
	}
	return nil
}
