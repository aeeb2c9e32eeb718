package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/approver/internal/hook"
)

func newApprovalCommand(opts *hookOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approval",
		Short: "Classify a pending tool invocation and notify when it needs attention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := hook.ReadInput(cmd.InOrStdin())
			if err != nil || in == nil {
				return nil
			}
			outcome := opts.runner().Approval(cmd.Context(), in)
			if opts.verbose {
				fmt.Fprintln(cmd.ErrOrStderr(), outcome)
			}
			return nil
		},
	}
}

func newDismissCommand(opts *hookOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss",
		Short: "Dismiss the notification for a completed tool invocation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// unreadable input dismisses everything
			in, _ := hook.ReadInput(cmd.InOrStdin())
			opts.runner().Dismiss(cmd.Context(), in)
			return nil
		},
	}
}

func newNotifyCommand(opts *hookOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "notify",
		Short: "Report that the assistant finished and is waiting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := hook.ReadInput(cmd.InOrStdin())
			if err != nil || in == nil {
				return nil
			}
			opts.runner().Notify(cmd.Context(), in)
			return nil
		},
	}
}
