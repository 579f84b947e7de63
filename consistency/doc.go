// Package consistency keeps the graph store and the vector collections in
// step.
//
// Every entity and chunk write is a dual write: the graph record is stored
// with Pending set, the vector is upserted into its collection, and the flag
// is cleared if the record still has the same version. The three steps run
// under a per-key lock (normalized entity key or chunk id), so writers of
// unrelated keys never wait for each other. A crash between the steps
// leaves a pending record that Recover completes on the next start.
package consistency
