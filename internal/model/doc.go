// Package model defines the records shared across the marketplace core.
//
// Records are plain identifier-keyed values. No record holds a reference to
// another; cross-entity access always goes through a repository lookup by id.
//
// Conventions:
//   - IDs: uuid.UUID
//   - Shares and prices: decimal.Decimal (shares > 0, price >= 0)
//   - Timestamps: time.Time in UTC
package model
