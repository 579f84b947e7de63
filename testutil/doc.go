// Package testutil holds seeded data generators and exact-search helpers
// shared by the index, planner and workspace tests.
//
//	rng := testutil.NewRNG(42)
//	data := rng.UnitVectors(1000, 32)
//	truth := testutil.ExactKNN(data, data[0], 10, distance.MetricCosine)
//	recall := testutil.Recall(truth, ids)
package testutil
