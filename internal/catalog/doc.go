// Package catalog keeps a SQLite index of finished recordings so they can be
// listed and located without walking the recordings tree.
//
// The recording folders stay the source of truth. Sync rebuilds entries from
// their manifests, so the database can be deleted at any time. Schema
// changes bump schemaVersion; an older database is rejected and must be
// removed.
package catalog
