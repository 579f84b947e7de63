// Package vecgraph is an embedded hybrid knowledge-graph and vector
// retrieval engine for retrieval-augmented generation.
//
// A DB holds isolated workspaces. Each workspace declares an embedding
// dimension and a distance metric at creation and owns a graph store of
// entities, relations and chunks plus two HNSW collections indexing the
// entity and chunk embeddings. Every write goes to the graph first and to
// the vector index second; records whose vector write did not complete are
// finished by recovery when the workspace is opened again.
//
// # Quick Start
//
//	db, err := vecgraph.Open(vecgraph.WithDir("./data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	ws, err := db.Workspace(ctx, "docs", vecgraph.WorkspaceConfig{Dimension: 768})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Ingest extracted records. Outcomes are reported per record:
//
//	res, err := ws.Ingest(ctx, vecgraph.Batch{
//	    Entities: []model.EntityInput{
//	        {Name: "Alice", Type: model.Person, Embedding: alice},
//	        {Name: "Acme Corp", Type: model.Organization, Embedding: acme},
//	    },
//	    Relations: []vecgraph.RelationRecord{
//	        {Source: vecgraph.RefName("Alice"), Target: vecgraph.RefName("Acme Corp"), Label: "WORKS_AT"},
//	    },
//	})
//
// Query with a vector restricted to the neighbourhood of an anchor entity:
//
//	resp, err := ws.Query(ctx, query.Query{
//	    Vector:     q,
//	    TopK:       10,
//	    Constraint: &query.Constraint{AnchorName: "Acme Corp", Depth: 2},
//	})
//
// # Error Handling
//
// Errors match the sentinels re-exported here (ErrInvalid, ErrLimitExceeded,
// ErrOrphanRelation, ErrIndexCorruption, ErrConcurrencyConflict) with
// errors.Is, and the typed errors with errors.As.
//
// # Backups
//
// Workspace.Backup streams the graph store and the workspace manifest to
// any blobstore.Store (local directory, S3, MinIO). Workspace.Restore loads
// a backup and rebuilds both vector collections from it.
package vecgraph
