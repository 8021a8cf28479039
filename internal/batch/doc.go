// Package batch implements the Batch Registry.
//
// The registry tracks every batch a producer has ever started:
//   - Started batches accumulate observations through append-only uploads
//   - Completed and Cancelled are terminal; accumulated records are released
//   - Identifiers are never recycled, terminal batches keep their metadata
//
// Failures are reported as *Error values carrying a closed Kind enumeration so
// transports can choose a status without inspecting message strings.
package batch
