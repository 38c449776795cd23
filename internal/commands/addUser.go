package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mechat/internal/api"
	"mechat/internal/config"
)

// AddUser creates an account through the ops listener of a running server.
// An empty password makes the server generate one.
func AddUser(name, email, password string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.AddUserRequest{Name: name, Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.OpsAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call ops API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.AddUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("ID:       %s\n", result.ID)
	fmt.Printf("Name:     %s\n", result.Name)
	fmt.Printf("Email:    %s\n", result.Email)
	if result.Password != "" {
		fmt.Printf("Password: %s\n\n", result.Password)
		fmt.Println("Please share the password with the user over a private channel.")
	}
	return nil
}
