// Package query implements the hybrid query planner.
//
// A query moves through Parse, Execute, Merge, Rank and Return. Parse
// validates the request and resolves the mode:
//
//   - VectorOnly: nearest entities by embedding
//   - GraphOnly: entities reachable from an anchor, scored 1/depth
//   - Hybrid: vector candidates filtered by a graph constraint, with
//     oversampling that doubles on every retry when too few survive
//   - DualLevel: exact or fuzzy name matches merged with vector matches
//     as max(low, alpha*high)
//
// Results never contain entities that violate the constraint and are never
// padded. When the deadline expires or the filter leaves fewer than TopK
// results, Response.Truncated is set.
package query
