package apns

import (
	"context"
	"log/slog"
	"time"
)

// Client delivers notifications and reads feedback using one set of
// credentials. Each Deliver call opens and closes its own connection, so a
// Client is safe for concurrent use.
type Client struct {
	Credentials  *Credentials
	GatewayAddr  string
	FeedbackAddr string
	Encoder      *Encoder
	Options      SessionOptions
	Logger       *slog.Logger
}

// ClientOption customises a Client built by NewClient.
type ClientOption func(*Client)

// WithGatewayAddr overrides the gateway address chosen by the environment.
func WithGatewayAddr(addr string) ClientOption {
	return func(c *Client) { c.GatewayAddr = addr }
}

// WithFeedbackAddr overrides the feedback address chosen by the environment.
func WithFeedbackAddr(addr string) ClientOption {
	return func(c *Client) { c.FeedbackAddr = addr }
}

// WithEncoder replaces the default encoder, e.g. to fix the id source.
func WithEncoder(e *Encoder) ClientOption {
	return func(c *Client) { c.Encoder = e }
}

// WithSessionOptions sets the timeouts used for every connection.
func WithSessionOptions(opts SessionOptions) ClientOption {
	return func(c *Client) { c.Options = opts }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.Logger = logger }
}

// NewClient returns a client for env.
func NewClient(creds *Credentials, env Environment, opts ...ClientOption) *Client {
	c := &Client{
		Credentials:  creds,
		GatewayAddr:  env.GatewayAddr(),
		FeedbackAddr: env.FeedbackAddr(),
		Encoder:      NewEncoder(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Options.Logger == nil {
		c.Options.Logger = c.Logger
	}
	return c
}

// DeliverOption adjusts a single delivery.
type DeliverOption func(*Notification)

// WithPriority sets the delivery priority. The default is PriorityHigh.
func WithPriority(p Priority) DeliverOption {
	return func(n *Notification) { n.Priority = p }
}

// WithExpiration sets when the gateway may stop trying to deliver. The
// default is DefaultExpiry from now.
func WithExpiration(t time.Time) DeliverOption {
	return func(n *Notification) { n.Expiration = t }
}

// Deliver sends payload to the device named by token and returns the
// notification id. Token and payload are validated before any connection
// is made. A nil error means the gateway did not reject the frame within
// the probe window; see SessionOptions.ProbeWindow.
func (c *Client) Deliver(ctx context.Context, token string, payload []byte, opts ...DeliverOption) (uint32, error) {
	deviceToken, err := ParseDeviceToken(token)
	if err != nil {
		return 0, err
	}
	n := Notification{Token: deviceToken, Payload: payload}
	for _, opt := range opts {
		opt(&n)
	}
	frame, err := c.Encoder.Encode(n)
	if err != nil {
		return 0, err
	}

	session, err := Dial(ctx, c.GatewayAddr, c.Credentials, c.Options)
	if err != nil {
		return 0, err
	}
	id, err := session.Send(frame)
	if err != nil {
		return 0, err
	}
	c.Logger.Debug("Notification sent", "id", id, "token", deviceToken.String(), "bytes", len(frame.Bytes))
	return id, nil
}

// Feedback opens a stream to the feedback service. The caller must close it.
func (c *Client) Feedback(ctx context.Context) (*FeedbackStream, error) {
	return OpenFeedback(ctx, c.FeedbackAddr, c.Credentials, c.Options)
}
