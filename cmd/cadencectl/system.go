package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"

	"github.com/phrazzld/cadence-api/internal/api"
	"github.com/phrazzld/cadence-api/internal/api/middleware"
	"github.com/phrazzld/cadence-api/internal/api/shared"
	"github.com/spf13/cobra"
)

func (c *cli) newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the server's runtime mode and open streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status api.StatusResponse
			if err := c.call(cmd.Context(), http.MethodGet, "/api/system/status", &status); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Mode:\t%s\n", status.Mode)
			fmt.Fprintf(tw, "Connections:\t%d\n", status.Connections)
			fmt.Fprintf(tw, "Started:\t%s\n", status.StartedAt.Format("2006-01-02 15:04:05 MST"))
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func (c *cli) newReprobeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprobe",
		Short: "Ask the server to re-check the distributed runtime",
		Long: `reprobe asks the server to probe the distributed runtime again. A degraded
server that finds it reachable rebuilds its components on it. Requires the
operator token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.v.GetString("server.operator_token") == "" {
				return fmt.Errorf("operator token is required (--operator-token or CADENCE_SERVER_OPERATOR_TOKEN)")
			}
			var resp api.ReprobeResponse
			if err := c.call(cmd.Context(), http.MethodPost, "/api/system/reprobe", &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case resp.Switched:
				fmt.Fprintf(out, "runtime reachable, switched to %s\n", resp.Mode)
			case resp.Reachable:
				fmt.Fprintf(out, "runtime reachable, staying %s\n", resp.Mode)
			default:
				fmt.Fprintf(out, "runtime unreachable (%s), staying %s\n", resp.Error, resp.Mode)
			}
			return nil
		},
	}
}

// call sends a request to the server and decodes a 200 response into out.
func (c *cli) call(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL()+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if token := c.v.GetString("server.operator_token"); token != "" {
		req.Header.Set(middleware.OperatorTokenHeader, token)
	}

	resp, err := c.deps.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.serverURL(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, shared.MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr shared.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
