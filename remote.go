package sheetsync

import (
	"context"
	"encoding/json"

	"github.com/ideamans/go-sheetsync/localstore"
)

// Actions understood by the remote endpoint.
const (
	ActionLogin                  = "login"
	ActionGetAuthorizedResources = "getAuthorizedResources"
	ActionGet                    = "get"
	ActionCreate                 = "create"
	ActionUpdate                 = "update"
)

// Remote is the system of record. Call sends {action, ...payload} and
// returns the decoded response. Transport failures are returned as errors;
// logical failures come back as a Response with Success false.
type Remote interface {
	Call(ctx context.Context, action string, payload map[string]any) (*Response, error)
}

// ResponseMeta carries the sync cursor of a get response.
type ResponseMeta struct {
	Resource   string `json:"resource,omitempty"`
	LastSyncAt string `json:"lastSyncAt,omitempty"`
}

// Response is the JSON envelope returned by every action. Rows, Records and
// Data are kept raw until DecodeDelta resolves them.
type Response struct {
	Success   bool                       `json:"success"`
	Message   string                     `json:"message,omitempty"`
	Token     string                     `json:"token,omitempty"`
	User      json.RawMessage            `json:"user,omitempty"`
	Resources []localstore.ResourceGrant `json:"resources,omitempty"`
	Rows      json.RawMessage            `json:"rows,omitempty"`
	Records   json.RawMessage            `json:"records,omitempty"`
	Data      json.RawMessage            `json:"data,omitempty"`
	Meta      *ResponseMeta              `json:"meta,omitempty"`
}

// IsReadAction reports whether action can be retried without side effects.
func IsReadAction(action string) bool {
	return action == ActionGet || action == ActionGetAuthorizedResources
}

// RemoteFunc adapts a function to the Remote interface.
type RemoteFunc func(ctx context.Context, action string, payload map[string]any) (*Response, error)

// Call implements Remote.
func (f RemoteFunc) Call(ctx context.Context, action string, payload map[string]any) (*Response, error) {
	return f(ctx, action, payload)
}
