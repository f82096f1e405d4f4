package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"apimon/internal/export"
	"apimon/internal/launcher"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Focus the monitor page of a running apimon, or open it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := call(cmd.Context(), http.MethodPost, serverURL(cmd)+"/api/command/"+launcher.OpenMonitor)
		if err != nil {
			return err
		}
		var res struct {
			Outcome launcher.Outcome `json:"outcome"`
		}
		if err := json.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Monitor %s\n", res.Outcome)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download the captured entries of a running apimon as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("out")
		if dir == "" {
			dir = cfg.ExportDir
		}
		endpoint := serverURL(cmd) + "/api/export"
		if expr, _ := cmd.Flags().GetString("jq"); expr != "" {
			endpoint += "?jq=" + url.QueryEscape(expr)
		}

		data, err := call(cmd.Context(), http.MethodGet, endpoint)
		if err != nil {
			return err
		}
		path, err := export.WriteFile(dir, time.Now(), data)
		if err != nil {
			return err
		}
		logger.Debug("export written", zap.String("path", path), zap.Int("bytes", len(data)))
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func call(ctx context.Context, method, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact apimon (is serve running?): %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %s: %s", method, endpoint, resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
