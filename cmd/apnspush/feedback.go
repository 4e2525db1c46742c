package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
)

func feedbackCmd(flags *gatewayFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Print the devices the feedback service reports as gone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client(cmd)
			if err != nil {
				return err
			}
			stream, err := client.Feedback(cmd.Context())
			if err != nil {
				return err
			}
			defer stream.Close()
			if timeout > 0 {
				if err := stream.SetDeadline(time.Now().Add(timeout)); err != nil {
					return err
				}
			}

			records, err := apns.ReadAllFeedback(stream.FeedbackDecoder)
			for _, rec := range records {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", rec.Timestamp.UTC().Format(time.RFC3339), rec.Token)
			}
			if err != nil {
				return fmt.Errorf("feedback read stopped after %d records: %w", len(records), err)
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%d records\n", len(records))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "bound on the whole read; 0 waits for the service to close")
	return cmd
}
