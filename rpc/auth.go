package rpc

import "net/http"

// clientIDHeader carries the caller's client identifier on every request.
const clientIDHeader = "X-Duplex-Client"

// authTokenHeader carries the caller's credential on every request.
const authTokenHeader = "X-Duplex-Token"

// AuthInstaller applies a client's credentials to an outgoing HTTP request. The client engine
// invokes it on every /push and /pull request it issues.
type AuthInstaller func(req *http.Request)

// Authenticator resolves an HTTP request to a client identifier. Returning the empty string marks
// the request unauthenticated and the endpoint responds 401. The engine consumes only this output;
// how credentials are checked is entirely up to the host.
type Authenticator func(req *http.Request) string

// TokenAuthInstaller returns an AuthInstaller that identifies the client by ID and presents a
// shared token.
func TokenAuthInstaller(clientID string, token string) AuthInstaller {
	return func(req *http.Request) {
		req.Header.Set(clientIDHeader, clientID)
		req.Header.Set(authTokenHeader, token)
	}
}

// TokenAuthenticator returns an Authenticator accepting any request presenting the shared token,
// resolving the client ID from the request headers.
func TokenAuthenticator(token string) Authenticator {
	return func(req *http.Request) string {
		if req.Header.Get(authTokenHeader) != token {
			return ""
		}
		return req.Header.Get(clientIDHeader)
	}
}
