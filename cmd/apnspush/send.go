package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sideshow/apns2/payload"
	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
)

type sendParams struct {
	alert    string
	badge    int
	sound    string
	file     string
	priority string
	expiry   time.Duration
}

func sendCmd(flags *gatewayFlags) *cobra.Command {
	params := &sendParams{}
	cmd := &cobra.Command{
		Use:   "send <token> [<token>...]",
		Short: "Send one notification to each device token",
		Long: `Send builds one payload from --alert/--badge/--sound, or reads it verbatim
from --file, and delivers it to every token in turn. Delivery stops at the
first failure.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := params.payload()
			if err != nil {
				return err
			}
			opts, err := params.deliverOptions()
			if err != nil {
				return err
			}
			for _, token := range args {
				if _, err := apns.ParseDeviceToken(token); err != nil {
					return fmt.Errorf("token %q: %w", token, err)
				}
			}
			client, err := flags.client(cmd)
			if err != nil {
				return err
			}

			for _, token := range args {
				id, err := client.Deliver(cmd.Context(), token, body, opts...)
				if err != nil {
					return fmt.Errorf("token %s: %w", token, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "sent %s id=%d\n", token, id)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&params.alert, "alert", "a", "Hello!", "alert text")
	f.IntVarP(&params.badge, "badge", "b", -1, "badge number; negative leaves it unset")
	f.StringVarP(&params.sound, "sound", "s", "", "sound name")
	f.StringVarP(&params.file, "file", "f", "", "JSON file holding the whole payload")
	f.StringVar(&params.priority, "priority", "high", "high or low")
	f.DurationVar(&params.expiry, "expiry", apns.DefaultExpiry, "how long the gateway may hold the notification")
	return cmd
}

func (p *sendParams) payload() ([]byte, error) {
	if p.file != "" {
		data, err := os.ReadFile(p.file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("payload file %s is not valid JSON", p.file)
		}
		return data, nil
	}
	if p.alert == "" && p.badge < 0 && p.sound == "" {
		return nil, errors.New("nothing to send: set --alert, --badge, --sound or --file")
	}

	pl := payload.NewPayload()
	if p.alert != "" {
		pl.Alert(p.alert)
	}
	if p.badge >= 0 {
		pl.Badge(p.badge)
	}
	if p.sound != "" {
		pl.Sound(p.sound)
	}
	return json.Marshal(pl)
}

func (p *sendParams) deliverOptions() ([]apns.DeliverOption, error) {
	var priority apns.Priority
	switch strings.ToLower(p.priority) {
	case "high", "10":
		priority = apns.PriorityHigh
	case "low", "5":
		priority = apns.PriorityLow
	default:
		return nil, fmt.Errorf("unknown priority %q", p.priority)
	}
	if p.expiry <= 0 {
		return nil, fmt.Errorf("expiry must be positive, got %s", p.expiry)
	}
	return []apns.DeliverOption{
		apns.WithPriority(priority),
		apns.WithExpiration(time.Now().Add(p.expiry)),
	}, nil
}
