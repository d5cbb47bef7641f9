// Package store persists patients. Both implementations use the version column as an
// optimistic concurrency token: an update carrying a stale version fails with
// sentinel.ErrConflict, and a duplicate identifier on create fails the same way.
package store
