package control

import "errors"

// Connect errors returned by the Connector collaborator. The control channel
// classifies them to drive negotiation and failover; anything it does not
// recognize is treated as a transient connect failure and the next host in
// the plan is tried.
var (
	// ErrInvalidProtocol indicates the server rejected the requested
	// protocol version during the handshake.
	ErrInvalidProtocol = errors.New("cqlcontrol: unsupported protocol version")

	// ErrNoStreams indicates the connection has no free stream slot for
	// another in-flight request.
	ErrNoStreams = errors.New("cqlcontrol: no more streams available on connection")
)

// AuthError is a credential rejection during the handshake. Fatal during the
// initial connect.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "cqlcontrol: authentication failed: " + e.Message
}

// SSLError is a TLS handshake failure. Fatal during the initial connect.
type SSLError struct {
	Message string
}

func (e *SSLError) Error() string {
	return "cqlcontrol: ssl handshake failed: " + e.Message
}

// ErrorKind classifies the fatal errors surfaced to the session from the
// initial connect sequence.
type ErrorKind int

const (
	ErrorNoHostsAvailable ErrorKind = iota
	ErrorUnableToDetermineProtocol
	ErrorBadCredentials
	ErrorUnableToConnect
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNoHostsAvailable:
		return "no hosts available"
	case ErrorUnableToDetermineProtocol:
		return "unable to determine protocol"
	case ErrorBadCredentials:
		return "bad credentials"
	case ErrorUnableToConnect:
		return "unable to connect"
	default:
		return "unknown"
	}
}
