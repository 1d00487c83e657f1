// Package lock provides distributed mutual exclusion over a shared Redis
// instance. Acquisition is a single SET NX EX round trip; release and renewal
// run server-side scripts that compare the caller's token before touching the
// key, so a process can never release a lock it no longer owns. Leases bound
// the damage of a crashed holder: an unreleased lock expires on its own.
package lock
