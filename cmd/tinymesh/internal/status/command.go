package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinymesh-ai/tinymesh/cmd/tinymesh/internal"
)

func NewStatusCommand() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check whether a tinymesh gateway is running",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return statusCmd(url)
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "", "Gateway base URL (default from config)")

	return cmd
}

func statusCmd(url string) error {
	if url == "" {
		cfg, err := internal.LoadConfig()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		url = fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url + "/health")
	if err != nil {
		fmt.Printf("✗ Gateway unreachable at %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	var health struct {
		Status   string `json:"status"`
		Presence int    `json:"presence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("error decoding health response: %w", err)
	}

	fmt.Printf("✓ Gateway %s at %s (%d participants online)\n", health.Status, url, health.Presence)
	return nil
}
