// Package engine is the single entry point for producers and readers.
//
// An Engine owns one batch registry and one last-value store. Every producer
// operation (start, upload, complete, cancel) runs inside one exclusive section, so a
// completion reads the batch, merges it into the store and marks it completed
// without any other producer call interleaving. Readers go straight to the store
// and never wait on that section.
//
// Observers registered on the engine receive an Event for every accepted
// transition and every rejected call. They run synchronously under the engine
// lock and must not block.
package engine
