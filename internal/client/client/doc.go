// Package client is the Remote Data Gateway: a thin request/response wrapper
// around the shop server's data and trash HTTP API.
//
// # Overview
//
// Gateway and TrashGateway are the transport-agnostic contracts consumed by
// the sync services. HTTPClient implements both over net/http. It obtains a
// bearer token through POST /auth/login, injects it into every request and
// logs in again once when a request is rejected with 401.
//
// # Error Handling
//
// Every failure is one of three typed errors:
//
//   - *NetworkError: transport failure or timeout (errors.Is common.ErrNetwork)
//   - *ServerError:  non-2xx status; Message is the body's "message" field
//     (errors.Is common.ErrServer, plus common.ErrNotFound for 404 and
//     common.ErrUnauthorized for 401/403)
//   - *FormatError:  the body did not have the expected shape
//     (errors.Is common.ErrFormat)
//
// Every call is bounded by the client timeout (10s unless configured).
package client
