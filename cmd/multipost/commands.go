package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/public_api_service/middleware"
	"github.com/ondepub/autopost/internal/queue_service/app"
)

func newAddCmd(opts *cliOptions) *cobra.Command {
	var (
		media     []string
		platforms []string
		account   string
		source    string
		id        string
	)
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Queue a post and request approval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.components(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			req := app.SubmitRequest{
				ID:        id,
				Text:      strings.Join(args, " "),
				Platforms: platforms,
				Account:   account,
				Source:    source,
			}
			for _, ref := range media {
				req.Media = append(req.Media, core_domain.MediaRef{Ref: ref})
			}
			post, err := c.Service.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderPost(post))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&media, "media", "m", nil, "media path under MEDIA_DIR or public URL (repeatable)")
	cmd.Flags().StringSliceVarP(&platforms, "platforms", "p", []string{"x", "instagram"}, "target platforms")
	cmd.Flags().StringVar(&account, "account", "", "X account key, defaults to X_DEFAULT_ACCOUNT")
	cmd.Flags().StringVar(&source, "source", "cli", "who produced the content")
	cmd.Flags().StringVar(&id, "id", "", "explicit post id")
	return cmd
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.components(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			posts, err := c.Service.List(cmd.Context(), core_domain.PostStatus(strings.ToLower(status)))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderQueue(posts))
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "only show pending, approved or rejected posts")
	return cmd
}

func newApproveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending post and publish it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.components(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.Service.Approve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAction(res))
			return nil
		},
	}
}

func newRejectCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.components(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.Service.Reject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAction(res))
			return nil
		},
	}
}

func newFeedbackCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <id> <note>",
		Short: "Attach a revision note to a post",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.components(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.Service.Feedback(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAction(res))
			return nil
		},
	}
}

func newProcessCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Publish approved posts that were never dispatched",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.components(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			n, err := c.Service.ProcessApproved(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d post(s) dispatched\n", n)
			for _, entry := range c.History.Snapshot() {
				fmt.Fprintln(cmd.OutOrStdout(), renderSummary(&entry))
			}
			return nil
		},
	}
}

func newRedispatchCmd(opts *cliOptions) *cobra.Command {
	var platforms []string
	cmd := &cobra.Command{
		Use:   "redispatch <id>",
		Short: "Retry publishing an approved post",
		Long:  "Retry publishing an approved post. Without --platforms every failed or missing platform is retried.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.components(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.Service.Redispatch(cmd.Context(), args[0], platforms)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderAction(res))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&platforms, "platforms", "p", nil, "platforms to retry")
	return cmd
}

func newTestNotifyCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test message through the configured chat channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := opts.components(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			text := fmt.Sprintf("multipost test notification (%s)", time.Now().Format(time.RFC3339))
			if err := c.Channel.Notify(cmd.Context(), text); err != nil {
				return fmt.Errorf("send test notification via %s: %w", c.Channel.Name(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test notification sent via %s\n", c.Channel.Name())
			return nil
		},
	}
}

func newTokenCmd(opts *cliOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set, the HTTP API accepts requests without a token")
			}
			token, err := middleware.IssueToken(cfg.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "operator name recorded in request logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
