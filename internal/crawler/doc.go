// Package crawler drives a site crawl: it walks the frontier breadth-first with a
// bounded worker pool, turns every page into embedded chunks and records the
// link graph in the hybrid store.
package crawler
