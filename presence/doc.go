// Package presence tracks live back-office sessions in a Redis sorted set.
// The member score is the last heartbeat in epoch milliseconds; a session is
// online only while its score is within the timeout window, so membership
// alone never means online. A parallel detail hash carries who the session
// belongs to and expires on its own shorter schedule. A periodic sweep trims
// stale members as a cost optimization; reads apply the same cutoff
// themselves and stay correct without it.
package presence
