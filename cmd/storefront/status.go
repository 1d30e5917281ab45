// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/storefront/storefront/internal/config"
)

// probeTimeout bounds each status request.
const probeTimeout = 2 * time.Second

// ProbeStatus holds the result of one health endpoint.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	URL    string `json:"url"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	apiURL      string
	metricsAddr string
	jsonOutput  bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running storefront",
		Long: `Query the API health route and the liveness and readiness probes of a
running storefront. Exits non-zero when any probe fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, &http.Client{Timeout: probeTimeout})
		},
	}

	cmd.Flags().StringVar(&cfg.apiURL, "api-url", "http://localhost:8080", "base URL of the API")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", config.Default().Metrics.Addr, "metrics/health address (empty = skip probes)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig, client *http.Client) error {
	probes := []ProbeStatus{
		probe(client, "api", strings.TrimSuffix(cfg.apiURL, "/")+"/health"),
	}
	if cfg.metricsAddr != "" {
		base := "http://" + cfg.metricsAddr
		probes = append(probes,
			probe(client, "liveness", base+"/healthz/liveness"),
			probe(client, "readiness", base+"/healthz/readiness"),
		)
	}

	if cfg.jsonOutput {
		output, err := formatStatusJSON(probes)
		if err != nil {
			return err
		}
		cmd.Println(output)
	} else {
		cmd.Print(formatStatusTable(probes))
	}

	for _, p := range probes {
		if !p.OK {
			return oops.Code("UNHEALTHY").With("probe", p.Probe).Errorf("%s probe failed", p.Probe)
		}
	}
	return nil
}

// probe GETs url and reports a 200 as healthy.
func probe(client *http.Client, name, url string) ProbeStatus {
	status := ProbeStatus{Probe: name, URL: url}

	resp, err := client.Get(url) //nolint:noctx // client timeout bounds the request
	if err != nil {
		status.Detail = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // detail is best effort
	status.Status = resp.StatusCode
	status.OK = resp.StatusCode == http.StatusOK
	status.Detail = strings.TrimSpace(string(body))
	return status
}

// formatStatusTable formats the probes as a human-readable table.
func formatStatusTable(probes []ProbeStatus) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tCODE\tDETAIL")
	for _, p := range probes {
		state := "fail"
		if p.OK {
			state = "ok"
		}
		code := "-"
		if p.Status != 0 {
			code = fmt.Sprint(p.Status)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Probe, state, code, p.Detail)
	}

	_ = w.Flush()
	return buf.String()
}

// formatStatusJSON formats the probes as JSON.
func formatStatusJSON(probes []ProbeStatus) (string, error) {
	data, err := json.MarshalIndent(probes, "", "  ")
	if err != nil {
		return "", oops.With("operation", "marshal status").Wrap(err)
	}
	return string(data), nil
}
