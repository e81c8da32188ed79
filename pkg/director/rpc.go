package director

import "context"

// MethodRequestStatus is the fixed RPC method name used to probe a
// service's application-level status.
const MethodRequestStatus = "REQUEST_STATUS"

// RPCClient is the narrow boundary onto the in-band status RPC
// subsystem. It is consumed here, not implemented: callers supply a
// client wired to whatever transport carries the protocol (typically a
// thin layer over the same engine network the containers run on).
type RPCClient interface {
	Request(ctx context.Context, service, method string, payload map[string]interface{}) (map[string]interface{}, error)
}
