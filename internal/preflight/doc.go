// Package preflight checks that the machine and the configured index are
// ready for building and serving.
//
// The checks cover:
//   - Free space to stage a rebuild: the current index plus 100MB
//   - Write permission where the index is published
//   - File descriptor limit
//   - Presence and format of a published index
//   - A build holding the index lock
//   - Embedder reachability and dimension agreement with the index
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithEmbedder(emb))
//	results := checker.RunAll(ctx, indexDir)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
