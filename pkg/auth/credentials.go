package auth

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Credentials holds a portal access token and the user it belongs to.
type Credentials struct {
	// AccessToken is the portal access token.
	AccessToken string `json:"accessToken"`

	// UserID identifies the authenticated user.
	UserID string `json:"userId"`

	// ExpiresAt is the unix timestamp after which the token must be
	// renewed. Zero means the expiry is unknown.
	ExpiresAt int64 `json:"expiresAt"`
}

// Expired reports whether the credentials have passed their expiry time.
// Credentials without a known expiry are never considered expired.
func (c Credentials) Expired(now time.Time) bool {
	return c.ExpiresAt != 0 && now.Unix() >= c.ExpiresAt
}

// MD5Hex returns the lowercase hex MD5 digest of s.
//
// The upstream API uses MD5 both for request signing and for password
// hashing. This is a wire contract, not a security choice made here.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
