// Package async provides panic-safe background execution.
//
// SafeGo runs a single task in its own goroutine with a timeout. Pool is a
// fixed set of workers fed from a queue; the plugin Context uses one for
// asynchronous runnables. Batch fans a slice of items out over a
// temporary pool and collects the failures, which is how descriptor files
// are parsed in parallel:
//
//	errs := async.Batch(ctx, files, 4, "read archives", 10*time.Second,
//		func(ctx context.Context, path string) error {
//			return readOne(path)
//		})
package async
