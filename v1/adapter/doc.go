// Package adapter provides lock.Store implementations for process memory,
// Redis, SQL databases through GORM, and DynamoDB.
//
// All stores share the same semantics, exercised by the locktest suite:
// saves are atomic create-or-take-over-expired operations, and deletes and
// extends are conditional on the owner.
package adapter
