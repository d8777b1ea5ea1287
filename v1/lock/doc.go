// Package lock provides named, owned, optionally expiring mutual-exclusion
// leases backed by a shared Store.
//
// A Factory resolves retry and ttl defaults and mints Lock handles. Each Lock
// carries a random owner identity; the Store only lets that owner release or
// extend the lease. Acquire retries according to a RetryConfig and reports
// failure to acquire as a false result rather than an error, keeping errors
// for storage faults and programmer mistakes.
//
// Locks can be serialized and restored by another Factory, possibly in a
// different process, so the lease can be released or extended by whoever
// knows its owner.
package lock
