// Package revoke maintains the token revocation list in Redis. Individual
// tokens are blacklisted by their JWT ID with a TTL equal to the token's
// remaining validity, so entries vanish exactly when the token itself would
// have expired. Principal-wide revocation writes a timestamp that invalidates
// every token issued before it. Checks fail closed: any parsing or store
// error reports the token as revoked.
package revoke
