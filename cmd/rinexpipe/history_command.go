// Rinexpipe - Continuous GNSS Stream Capture and RINEX Batch Conversion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rinexpipe

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/rinexpipe/internal/conversion"
	"github.com/tomtom215/rinexpipe/internal/ledger"
	"github.com/tomtom215/rinexpipe/internal/state"
	"github.com/tomtom215/rinexpipe/internal/statusapi"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		day    string
		source string
		addr   string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the conversion ledger",
		Long: `Show conversion results recorded in the ledger.

The ledger is opened read-only, which fails while the daemon holds it;
use --addr to query the daemon's status API instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if day != "" {
				if _, err := time.Parse(time.DateOnly, day); err != nil {
					return fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day)
				}
			}

			var records []ledger.Record
			if addr != "" {
				records, err = fetchHistory(cmd.Context(), http.DefaultClient, addr, day, source, limit)
			} else {
				records, err = readHistory(cmd.Context(), state.Dir(cfg.Paths.StateDir).LedgerPath(), day, source, limit)
			}
			if err != nil {
				return err
			}

			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversions recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRecords(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "UTC day (YYYY-MM-DD); default the most recent records")
	cmd.Flags().StringVar(&source, "source", "", "Only show this source id")
	cmd.Flags().StringVar(&addr, "addr", "", "Query a running daemon's status API (host:port)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum records to show")

	return cmd
}

func readHistory(ctx context.Context, path, day, source string, limit int) ([]ledger.Record, error) {
	led, err := ledger.Open(ledger.Options{Path: path, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w (is the daemon running? try --addr)", err)
	}
	defer led.Close()

	var records []ledger.Record
	if day != "" {
		d, _ := time.Parse(time.DateOnly, day)
		records, err = led.Day(ctx, d)
	} else {
		records, err = led.Recent(ctx, 0)
	}
	if err != nil {
		return nil, err
	}
	if source != "" {
		records = ledger.Filter(records, ledger.BySource(source))
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

type historyResponse struct {
	Status string           `json:"status"`
	Data   []ledger.Record  `json:"data"`
	Error  *statusapi.Error `json:"error"`
}

func fetchHistory(ctx context.Context, client *http.Client, addr, day, source string, limit int) ([]ledger.Record, error) {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	q := url.Values{}
	if day != "" {
		q.Set("day", day)
	}
	if source != "" {
		q.Set("source", source)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := strings.TrimRight(base, "/") + "/history"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query status API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read status API response: %w", err)
	}
	var hr historyResponse
	if err := json.Unmarshal(body, &hr); err != nil {
		return nil, fmt.Errorf("decode status API response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if hr.Error != nil {
			return nil, fmt.Errorf("status API: %s: %s", hr.Error.Code, hr.Error.Message)
		}
		return nil, fmt.Errorf("status API: HTTP %d", resp.StatusCode)
	}
	return hr.Data, nil
}

func renderRecords(records []ledger.Record) string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.RecordedAt.UTC().Format("2006-01-02 15:04:05"),
			r.Source,
			r.Cadence,
			r.Bucket,
			string(r.Outcome),
			strconv.Itoa(r.Inputs),
			strconv.Itoa(r.Duplicates),
			sizeOrDash(r.Bytes),
			r.Duration.Round(time.Millisecond).String(),
			r.Error,
		})
	}
	return renderTable(
		[]string{"Recorded", "Source", "Cadence", "Bucket", "Outcome", "Inputs", "Dups", "Size", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
	)
}

func renderResults(results []conversion.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Source,
			r.Cadence,
			r.Bucket,
			string(r.Outcome),
			strconv.Itoa(r.Inputs),
			sizeOrDash(r.Bytes),
			r.Duration.Round(time.Millisecond).String(),
			r.Error,
		})
	}
	return renderTable(
		[]string{"Source", "Cadence", "Bucket", "Outcome", "Inputs", "Size", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func sizeOrDash(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}
