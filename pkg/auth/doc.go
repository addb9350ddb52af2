// Package auth implements authentication against the Ecovacs cloud.
//
// Logging in is a three stage exchange:
//
//  1. Account/password exchange against the per-country login API,
//     returning a short-lived account access token.
//  2. Auth code retrieval from the openapi endpoint using that token.
//  3. Portal token exchange ("loginByItToken"), returning the portal
//     credentials used for all subsequent API and broker traffic.
//
// Requests to the first two stages are signed with MD5 over the sorted
// request parameters and a static client key pair. The key pairs and the
// signing scheme are wire contracts with the upstream service.
//
// The Authenticator wraps a Client with credential caching: it returns
// cached credentials until they expire (or a refresh is forced) and
// notifies an optional callback whenever new credentials are obtained,
// so callers can persist them.
package auth
