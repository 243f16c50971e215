// Package watcher provides file system watching with debouncing and
// ignore-aware filtering.
//
// Raw fsnotify events are coalesced per path over a debounce window so a
// burst of editor saves or a git checkout produces one batch instead of a
// storm. Paths matching .crystalignore or .gitignore rules are filtered
// out, and changes to those files themselves surface as OpIgnoreChange so
// the consumer can decide whether a full rescan is warranted.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, "/path/to/project"); err != nil {
//	    return err
//	}
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        switch event.Operation {
//	        case watcher.OpCreate:
//	            // Handle file creation
//	        case watcher.OpModify:
//	            // Handle file modification
//	        case watcher.OpDelete:
//	            // Handle file deletion
//	        }
//	    }
//	}
package watcher
