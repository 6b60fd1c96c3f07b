// Package watcher reports changes to the snapshot directory.
//
// The Watcher subscribes to filesystem notifications for the directory and
// coalesces bursts of events into a single signal on Changes once the
// directory has been quiet for the debounce interval. Hidden files, such as
// the temp files written before an atomic rename, are ignored.
//
// Example usage:
//
//	w, err := watcher.New(store.Dir(), 200*time.Millisecond, logger)
//	if err != nil {
//		return err
//	}
//	if err := w.Start(); err != nil {
//		return err
//	}
//	defer w.Stop()
//
//	for range w.Changes() {
//		// re-list snapshots
//	}
package watcher
