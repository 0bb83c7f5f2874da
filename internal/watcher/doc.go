// Package watcher notices when an index directory has been rebuilt so a
// running server can load it and swap it in.
//
// Builds publish a new index by renaming a finished temporary directory over
// the old one, so the watcher observes the parent directory with fsnotify and
// reacts to events naming the index directory. Where fsnotify is unavailable
// it polls the manifest instead. Bursts of events are debounced into one
// batch per window.
//
// Usage:
//
//	w, err := watcher.NewIndexWatcher(dir, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go w.Start(ctx)
//	for batch := range w.Events() {
//	    // reload the index
//	}
package watcher
