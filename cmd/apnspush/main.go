// Command apnspush sends notifications through the binary APNs gateway and
// reads the feedback service.
//
//	apnspush send --cert push.crt --key push.key --alert "Hello!" <token> [<token>...]
//	apnspush feedback --p12 push.p12 --password secret --sandbox
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
)

// gatewayFlags are shared by every command that talks to Apple.
type gatewayFlags struct {
	certFile     string
	keyFile      string
	caFile       string
	p12File      string
	password     string
	sandbox      bool
	gatewayAddr  string
	feedbackAddr string
	dialTimeout  time.Duration
	verbose      bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	flags := &gatewayFlags{}
	cmd := &cobra.Command{
		Use:           "apnspush",
		Short:         "Send Apple push notifications over the binary gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.certFile, "cert", os.Getenv("APNS_CERT_FILE"), "PEM client certificate (env APNS_CERT_FILE)")
	pf.StringVar(&flags.keyFile, "key", os.Getenv("APNS_PRIVATE_KEY_FILE"), "PEM private key (env APNS_PRIVATE_KEY_FILE)")
	pf.StringVar(&flags.caFile, "ca", os.Getenv("APNS_CA_FILE"), "PEM CA bundle; system roots when empty (env APNS_CA_FILE)")
	pf.StringVar(&flags.p12File, "p12", os.Getenv("APNS_P12_FILE"), "PKCS#12 certificate, used when --cert is empty (env APNS_P12_FILE)")
	pf.StringVar(&flags.password, "password", os.Getenv("APNS_P12_PASSWORD"), "PKCS#12 password (env APNS_P12_PASSWORD)")
	pf.BoolVar(&flags.sandbox, "sandbox", false, "use the sandbox environment")
	pf.StringVar(&flags.gatewayAddr, "gateway", "", "override the gateway host:port")
	pf.StringVar(&flags.feedbackAddr, "feedback-addr", "", "override the feedback host:port")
	pf.DurationVar(&flags.dialTimeout, "dial-timeout", 10*time.Second, "connect and handshake timeout")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(sendCmd(flags))
	cmd.AddCommand(feedbackCmd(flags))
	return cmd
}

func (f *gatewayFlags) client(cmd *cobra.Command) (*apns.Client, error) {
	var (
		creds *apns.Credentials
		err   error
	)
	switch {
	case f.certFile != "":
		creds, err = apns.LoadCredentials(f.certFile, f.keyFile, f.caFile)
	case f.p12File != "":
		creds, err = apns.LoadP12Credentials(f.p12File, f.password, f.caFile)
	default:
		return nil, fmt.Errorf("no credentials: set --cert and --key, or --p12")
	}
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	env := apns.Production
	if f.sandbox {
		env = apns.Sandbox
	}
	opts := []apns.ClientOption{
		apns.WithLogger(logger),
		apns.WithSessionOptions(apns.SessionOptions{DialTimeout: f.dialTimeout, Logger: logger}),
	}
	if f.gatewayAddr != "" {
		opts = append(opts, apns.WithGatewayAddr(f.gatewayAddr))
	}
	if f.feedbackAddr != "" {
		opts = append(opts, apns.WithFeedbackAddr(f.feedbackAddr))
	}
	return apns.NewClient(creds, env, opts...), nil
}
