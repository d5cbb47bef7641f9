// Package store persists consent decisions, one per patient identifier.
package store

// Error Contract:
// - FindByIdentifier returns sentinel.ErrNotFound when no decision is recorded
// - Upsert replaces an existing decision in place and keeps its ID
// - Upsert returns sentinel.ErrConflict when the patient row is missing
