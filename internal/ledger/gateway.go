// Package ledger talks to the remote asset ledger over its HTTP API.
//
// Every call returns a Result that is either a success carrying the raw
// `result` payload or a failure classified into one of three kinds. The
// package never interprets the business meaning of remote error text and
// never retries; both are the caller's concern.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

// Endpoint identifies a remote API method.
type Endpoint string

const (
	EndpointCreateProfile Endpoint = "profiles/create/master"
	EndpointCreateSession Endpoint = "sessions/create/local"
	EndpointUnlockSession Endpoint = "sessions/unlock/local"
	EndpointCreateAsset   Endpoint = "assets/create/asset"
	EndpointTransferAsset Endpoint = "assets/transfer/asset"
	EndpointGetAsset      Endpoint = "assets/get/asset"
	EndpointGetAccount    Endpoint = "finance/get/account"
)

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	// KindNetworkUnreachable covers refused connections, DNS failures and
	// timeouts.
	KindNetworkUnreachable ErrorKind = "network_unreachable"
	// KindRemoteRejected covers a structured error payload from the ledger.
	KindRemoteRejected ErrorKind = "remote_rejected"
	// KindInvalidResponse covers a successful status whose body lacks the
	// expected result shape.
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Gateway is the capability the engines depend on.
type Gateway interface {
	Call(ctx context.Context, endpoint Endpoint, payload interface{}) Result
}

// Result is the tagged outcome of a gateway call.
type Result struct {
	OK      bool
	Value   json.RawMessage
	Kind    ErrorKind
	Message string
}

func Success(value json.RawMessage) Result {
	return Result{OK: true, Value: value}
}

func Failure(kind ErrorKind, message string) Result {
	return Result{Kind: kind, Message: message}
}

// Error is the error form of a failed Result.
type Error struct {
	Endpoint Endpoint
	Kind     ErrorKind
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger %s: %s: %s", e.Endpoint, e.Kind, e.Message)
}

// Err returns nil for a successful result and an *Error otherwise.
func (r Result) Err(endpoint Endpoint) error {
	if r.OK {
		return nil
	}
	return &Error{Endpoint: endpoint, Kind: r.Kind, Message: r.Message}
}

// decode unmarshals a successful result into v. A body that does not fit v is
// reported as an invalid response.
func (r Result) decode(endpoint Endpoint, v interface{}) error {
	if err := r.Err(endpoint); err != nil {
		return err
	}
	if len(r.Value) == 0 {
		return &Error{Endpoint: endpoint, Kind: KindInvalidResponse, Message: "empty result"}
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return &Error{Endpoint: endpoint, Kind: KindInvalidResponse, Message: err.Error()}
	}
	return nil
}
