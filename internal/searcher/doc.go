// Package searcher holds the bounded candidate heaps used by HNSW search
// and insertion.
package searcher
