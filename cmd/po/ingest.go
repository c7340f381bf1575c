package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/daviddao/poflow/internal/display"
	"github.com/daviddao/poflow/internal/webhook"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [FILE]",
	Short: "Run a decision cycle for one inbound email",
	Long: `Read an inbound email as JSON and run it through the decision engine.

The JSON has the same shape as the webhook payload: from, to, subject, body,
date, message_id, in_reply_to, references and attachments (base64 content).
With no FILE, or FILE "-", the payload is read from stdin.`,
	Example: `  po ingest reply.json
  cat reply.json | po ingest
  po ingest reply.json --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		var p webhook.Payload
		if err := json.NewDecoder(r).Decode(&p); err != nil {
			return fmt.Errorf("decode email: %w", err)
		}
		email, err := p.Email()
		if err != nil {
			return err
		}

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		res, err := a.engine.ProcessInbound(ctx, email)
		if err != nil {
			return err
		}

		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		display.Result(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
