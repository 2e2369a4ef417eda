package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"nhooyr.io/websocket"
)

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger, window and pipeline counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var status map[string]any
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/status", nil, &status); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	var (
		status string
		after  uint64
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Page through requests in a status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			query.Set("status", status)
			if after > 0 {
				query.Set("after", strconv.FormatUint(after, 10))
			}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			var page map[string]any
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/v1/withdrawals?"+query.Encode(), nil, &page); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().StringVar(&status, "status", "queued", "queued|pooled|broadcasted|expired|complete")
	cmd.Flags().Uint64Var(&after, "after", 0, "resume after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (server page size when zero)")
	return cmd
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <request-id>",
		Short: "Show one withdrawal request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req map[string]any
			path := "/v1/withdrawals/" + url.PathEscape(strings.TrimSpace(args[0]))
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &req); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		},
	}
}

func newSubmitCommand(opts *rootOptions) *cobra.Command {
	var body struct {
		Owner       string `json:"owner"`
		Amount      uint64 `json:"amount"`
		Destination string `json:"destination"`
	}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Record an authorised withdrawal intent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if body.Amount == 0 {
				return fmt.Errorf("--amount must be positive")
			}
			var created map[string]any
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/withdrawals", body, &created); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), created)
		},
	}
	cmd.Flags().StringVar(&body.Owner, "owner", "", "owner identity (bech32 cc1... or hex)")
	cmd.Flags().Uint64Var(&body.Amount, "amount", 0, "amount in base credits")
	cmd.Flags().StringVar(&body.Destination, "destination", "", "core chain output script (hex)")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newToggleCommand(opts *rootOptions, use, short, path, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done)
			return nil
		},
	}
}

func newPauseCommand(opts *rootOptions) *cobra.Command {
	return newToggleCommand(opts, "pause", "Suspend pooling and broadcasting", "/v1/pause", "withdrawals paused")
}

func newResumeCommand(opts *rootOptions) *cobra.Command {
	return newToggleCommand(opts, "resume", "Lift a pause", "/v1/resume", "withdrawals resumed")
}

func newSupplyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "supply <delta>",
		Short: "Mint (positive) or burn (negative) platform credits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta := strings.TrimSpace(args[0])
			var resp struct {
				Supply string `json:"supply"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/supply", map[string]string{"delta": delta}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total supply: %s\n", resp.Supply)
			return nil
		},
	}
}

func newReportCommand(opts *rootOptions) *cobra.Command {
	var body struct {
		From uint64 `json:"from"`
		To   uint64 `json:"to"`
	}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a settlement report for completed withdrawals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var files map[string]any
			if err := opts.client().do(cmd.Context(), http.MethodPost, "/v1/reports", body, &files); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), files)
		},
	}
	cmd.Flags().Uint64Var(&body.From, "from", 0, "first platform height")
	cmd.Flags().Uint64Var(&body.To, "to", 0, "last platform height (current height when zero)")
	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream lifecycle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := opts.client()
			path := eventsPath(types)
			header := http.Header{}
			if client.token != "" {
				header.Set("Authorization", "Bearer "+client.token)
			}
			conn, _, err := websocket.Dial(cmd.Context(), client.websocketURL(path), &websocket.DialOptions{HTTPHeader: header})
			if err != nil {
				return fmt.Errorf("connect event stream: %w", err)
			}
			defer conn.Close(websocket.StatusNormalClosure, "")
			for {
				_, data, err := conn.Read(cmd.Context())
				if err != nil {
					if websocket.CloseStatus(err) == websocket.StatusNormalClosure || cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "event types to include (repeatable)")
	return cmd
}

func eventsPath(types []string) string {
	if len(types) == 0 {
		return "/v1/events"
	}
	return "/v1/events?types=" + url.QueryEscape(strings.Join(types, ","))
}
