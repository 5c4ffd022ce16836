// Package store defines the persistence contracts of the crawler: the hybrid
// chunk store and the crawl run repository. Implementations live in
// internal/storage; this package must not import database drivers or
// concrete clients.
package store
