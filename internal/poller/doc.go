// Package poller mirrors quotes from another lastvalue instance.
//
// The poller:
//   - Fetches the last price of each watched instrument on a fixed interval
//   - Bounds in-flight requests with an errgroup limit
//   - Forwards only quotes newer than the last one it forwarded
//   - Hands each cycle's changes to a Handler as one group, so a
//     downstream store can apply them as a single batch
package poller
