package rpcclient

import (
	"github.com/ScopeLift/umbra-v2-experimental/internal/approval"
	"github.com/ScopeLift/umbra-v2-experimental/internal/pairing"
	"github.com/ScopeLift/umbra-v2-experimental/internal/registry"
	"github.com/ScopeLift/umbra-v2-experimental/internal/rpc"
)

// Authenticate unlocks wallet and derives the stealth keys.
func (c *Client) Authenticate(wallet, password string) (rpc.AuthStatus, error) {
	var out rpc.AuthStatus
	err := c.Call("auth_authenticate", rpc.AuthParam{Wallet: wallet, Password: password}, &out)
	return out, err
}

// AuthStatus reports whether the daemon holds keys.
func (c *Client) AuthStatus() (rpc.AuthStatus, error) {
	var out rpc.AuthStatus
	err := c.Call("auth_status", nil, &out)
	return out, err
}

// Logout drops the keys, addresses and sessions.
func (c *Client) Logout() (rpc.AuthStatus, error) {
	var out rpc.AuthStatus
	err := c.Call("auth_logout", nil, &out)
	return out, err
}

// Generate creates count stealth addresses; zero means the default batch.
func (c *Client) Generate(count int) ([]registry.Detail, error) {
	var out []registry.Detail
	var params interface{}
	if count > 0 {
		params = rpc.GenerateParam{Count: count}
	}
	err := c.Call("stealth_generate", params, &out)
	return out, err
}

// Addresses lists generated stealth addresses and the selection.
func (c *Client) Addresses() (rpc.AddressList, error) {
	var out rpc.AddressList
	err := c.Call("stealth_list", nil, &out)
	return out, err
}

// Select makes address the one offered to dApps.
func (c *Client) Select(address string) (registry.Detail, error) {
	var out registry.Detail
	err := c.Call("stealth_select", rpc.AddressParam{Address: address}, &out)
	return out, err
}

// Pair connects to a dApp's pairing URI.
func (c *Client) Pair(uri string) error {
	return c.Call("pairing_connect", rpc.URIParam{URI: uri}, nil)
}

// Sessions lists active dApp sessions.
func (c *Client) Sessions() ([]pairing.Session, error) {
	var out []pairing.Session
	err := c.Call("pairing_sessions", nil, &out)
	return out, err
}

// Disconnect ends the session on topic.
func (c *Client) Disconnect(topic string) error {
	return c.Call("pairing_disconnect", rpc.TopicParam{Topic: topic}, nil)
}

// Pending returns the request awaiting approval, if any.
func (c *Client) Pending() (rpc.PendingResult, error) {
	var out rpc.PendingResult
	err := c.Call("request_pending", nil, &out)
	return out, err
}

// Approve executes the pending request.
func (c *Client) Approve() (approval.Response, error) {
	var out approval.Response
	err := c.Call("request_approve", nil, &out)
	return out, err
}

// Reject refuses the pending request.
func (c *Client) Reject() (approval.Response, error) {
	var out approval.Response
	err := c.Call("request_reject", nil, &out)
	return out, err
}

// LastResponse returns the last response sent to a dApp.
func (c *Client) LastResponse() (rpc.LastResponseResult, error) {
	var out rpc.LastResponseResult
	err := c.Call("request_lastResponse", nil, &out)
	return out, err
}

// Fund asks the funder to top up every generated address.
func (c *Client) Fund() (rpc.FundResult, error) {
	var out rpc.FundResult
	err := c.Call("funding_fund", nil, &out)
	return out, err
}
