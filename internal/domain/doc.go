// Package domain contains the core business entities, value objects, and
// domain logic of the document review system: review targets and their
// status machine, checklist snapshots, review results, and the document
// caches that make retries possible without re-ingesting files.
// It is independent of any specific infrastructure or delivery mechanism.
package domain
