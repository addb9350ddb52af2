// Package portal provides the HTTP JSON transport for the Ecovacs portal.
//
// All portal endpoints are POST requests with a JSON body. Authenticated
// requests carry an "auth" envelope alongside the request parameters,
// holding the user id, realm, access token, and the short device resource
// id. The portal host is region dependent: portal-{continent}.ecouser.net,
// or the bare portal subdomain for mainland China accounts.
package portal
