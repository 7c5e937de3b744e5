// Package common contains shared constants and sentinel errors used across
// shopkeeper components.
package common

// AuthorizationHeader carries the bearer access token on data API requests.
const AuthorizationHeader = "Authorization"

// BearerPrefix precedes the token in AuthorizationHeader.
const BearerPrefix = "Bearer "
