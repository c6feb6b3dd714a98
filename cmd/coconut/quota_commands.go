package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kokos14v/Ivan-Kosovych/pkg/api"
)

const quotaRequestTimeout = 5 * time.Second

// The quota flag lives in the server process; these commands talk to it over HTTP.
func newQuotaCommand(ctx *commandContext) *cobra.Command {
	var server string

	quotaCmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect or reset the AI quota flag of a running server",
	}
	quotaCmd.PersistentFlags().StringVar(&server, "server", "", "Server base URL (default: http://<server.bind>)")

	baseURL := func() (string, error) {
		if server != "" {
			return strings.TrimRight(server, "/"), nil
		}
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return "", err
		}
		return "http://" + cfg.Server.Bind, nil
	}

	run := func(method, path string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			base, err := baseURL()
			if err != nil {
				return err
			}
			quota, err := callQuota(cmd.Context(), method, base+path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Exhausted:      %s\n", yesNo(quota.Exhausted))
			fmt.Fprintf(out, "Banner visible: %s\n", yesNo(quota.Visible))
			fmt.Fprintf(out, "Elevated:       %s\n", yesNo(quota.Elevated))
			fmt.Fprintf(out, "Escalations:    %d\n", quota.Escalations)
			return nil
		}
	}

	quotaCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the quota banner state",
		RunE:  run(http.MethodGet, "/quota"),
	})
	quotaCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reopen the quota after exhaustion",
		RunE:  run(http.MethodPost, "/quota/reset"),
	})
	quotaCmd.AddCommand(&cobra.Command{
		Use:   "dismiss",
		Short: "Hide the quota banner without reopening the quota",
		RunE:  run(http.MethodPost, "/quota/dismiss"),
	})
	return quotaCmd
}

func callQuota(ctx context.Context, method, url string) (api.QuotaResponse, error) {
	var out api.QuotaResponse
	ctx, cancel := context.WithTimeout(ctx, quotaRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return out, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return out, fmt.Errorf("connect to server: cannot reach %s; start it with `coconut serve`", url)
		}
		return out, fmt.Errorf("connect to server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("server answered %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode quota response: %w", err)
	}
	return out, nil
}
