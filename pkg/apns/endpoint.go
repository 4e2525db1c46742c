package apns

// Gateway and feedback service addresses.
const (
	GatewayProduction  = "gateway.push.apple.com:2195"
	GatewaySandbox     = "gateway.sandbox.push.apple.com:2195"
	FeedbackProduction = "feedback.push.apple.com:2196"
	FeedbackSandbox    = "feedback.sandbox.push.apple.com:2196"
)

// Environment selects the production or sandbox pair of endpoints.
type Environment int

const (
	Production Environment = iota
	Sandbox
)

// GatewayAddr returns the host:port notifications are sent to.
func (e Environment) GatewayAddr() string {
	if e == Sandbox {
		return GatewaySandbox
	}
	return GatewayProduction
}

// FeedbackAddr returns the host:port of the feedback service.
func (e Environment) FeedbackAddr() string {
	if e == Sandbox {
		return FeedbackSandbox
	}
	return FeedbackProduction
}

func (e Environment) String() string {
	if e == Sandbox {
		return "sandbox"
	}
	return "production"
}
