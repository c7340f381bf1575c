package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/daviddao/poflow/internal/auth"
	"github.com/daviddao/poflow/internal/classify"
	"github.com/daviddao/poflow/internal/display"
	"github.com/daviddao/poflow/internal/gmail"
	"github.com/spf13/cobra"
	gm "google.golang.org/api/gmail/v1"
)

var (
	gmailMaxResults int64
	gmailRaw        bool
)

// gmailCmd is the parent command for mailbox operations.
var gmailCmd = &cobra.Command{
	Use:   "gmail",
	Short: "Mailbox operations (auth, search, read)",
	Long:  "Authorize the configured Gmail account and inspect its mail.",
}

var gmailAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize the configured mailbox account",
	Long: `Run the OAuth consent flow for mailbox.account.

Open the printed URL, approve access, then paste the authorization code.
The token is stored under mailbox.tokenDir with mode 0600.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Mailbox.Account == "" {
			return fmt.Errorf("mailbox.account is not set in %s", configSource())
		}
		p := mailboxPaths()
		oauthCfg, err := auth.LoadOAuthConfig(p.Credentials)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Open this URL and authorize %s:\n\n  %s\n\n", p.Account, auth.AuthURL(oauthCfg, "poflow"))
		fmt.Fprint(w, "Authorization code: ")

		code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && strings.TrimSpace(code) == "" {
			return fmt.Errorf("read authorization code: %w", err)
		}
		if err := auth.Exchange(context.Background(), oauthCfg, strings.TrimSpace(code), p.TokenPath()); err != nil {
			return err
		}
		if !quietFlag {
			display.SuccessMsg("Token saved to %s", p.TokenPath())
		}
		return nil
	},
}

var gmailSearchCmd = &cobra.Command{
	Use:   "search [QUERY]",
	Short: "Search the mailbox",
	Long: `Search the mailbox with Gmail query syntax. Without QUERY the inbound
query from the config is used, showing what the next tick would fetch.`,
	Example: `  po gmail search
  po gmail search "subject:PO-1042" -n 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := cfg.Mailbox.Query
		if len(args) == 1 {
			query = args[0]
		}
		ctx := context.Background()
		svc, err := mailboxService(ctx)
		if err != nil {
			return err
		}

		results, err := gmail.Search(ctx, svc, query, gmailMaxResults)
		if err != nil {
			return err
		}
		if jsonOutput {
			if results == nil {
				results = []gmail.MessageSummary{}
			}
			return writeJSON(cmd.OutOrStdout(), results)
		}

		w := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintf(w, "No messages found matching: %s\n", query)
			return nil
		}
		fmt.Fprintf(w, "Found %d message(s) matching: %s\n\n", len(results), query)
		for i, msg := range results {
			fmt.Fprintf(w, "[%d] ID: %s\n", i+1, msg.ID)
			fmt.Fprintf(w, "    From: %s\n", msg.From)
			fmt.Fprintf(w, "    Subject: %s\n", msg.Subject)
			fmt.Fprintf(w, "    Date: %s\n", msg.Date)
			fmt.Fprintf(w, "    Preview: %s\n\n", display.Truncate(msg.Snippet, 100))
		}
		return nil
	},
}

var gmailReadCmd = &cobra.Command{
	Use:   "read MESSAGE_ID",
	Short: "Read a message by Gmail ID",
	Long: `Print a message the way the classifier sees it. HTML-only bodies are
converted to plain text unless --raw is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		svc, err := mailboxService(ctx)
		if err != nil {
			return err
		}

		msg, err := gmail.ReadFull(ctx, svc, args[0])
		if err != nil {
			return err
		}
		if msg.HTML && !gmailRaw {
			msg.Body = classify.PlainText(msg.Body)
			msg.HTML = false
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), msg)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "From: %s\n", msg.From)
		fmt.Fprintf(w, "To: %s\n", msg.To)
		if msg.CC != "" {
			fmt.Fprintf(w, "Cc: %s\n", msg.CC)
		}
		fmt.Fprintf(w, "Subject: %s\n", msg.Subject)
		fmt.Fprintf(w, "Date: %s\n", msg.Date)
		if msg.MessageID != "" {
			fmt.Fprintf(w, "Message-ID: %s\n", msg.MessageID)
		}
		if msg.InReplyTo != "" {
			fmt.Fprintf(w, "In-Reply-To: %s\n", msg.InReplyTo)
		}
		fmt.Fprintf(w, "Labels: %s\n", strings.Join(msg.Labels, ", "))
		if len(msg.Attachments) > 0 {
			fmt.Fprintf(w, "Attachments:\n")
			for _, att := range msg.Attachments {
				fmt.Fprintf(w, "  - %s (%s, %d bytes)\n", att.Filename, att.MimeType, att.Size)
			}
		}
		fmt.Fprintf(w, "\n%s\n\n", strings.Repeat("=", 60))
		fmt.Fprintf(w, "%s\n", msg.Body)
		return nil
	},
}

func mailboxService(ctx context.Context) (*gm.Service, error) {
	if cfg.Mailbox.Account == "" {
		return nil, fmt.Errorf("mailbox.account is not set in %s", configSource())
	}
	return auth.LoadGmailService(ctx, mailboxPaths(), logger)
}

func configSource() string {
	if src := cfg.Source(); src != "" {
		return src
	}
	return "the config"
}

func init() {
	gmailSearchCmd.Flags().Int64VarP(&gmailMaxResults, "max-results", "n", 10, "Maximum results to return")
	gmailReadCmd.Flags().BoolVar(&gmailRaw, "raw", false, "Print HTML bodies unconverted")

	gmailCmd.AddCommand(gmailAuthCmd)
	gmailCmd.AddCommand(gmailSearchCmd)
	gmailCmd.AddCommand(gmailReadCmd)
	rootCmd.AddCommand(gmailCmd)
}
