// Package feed streams committed prices to WebSocket subscribers.
//
// A new subscriber first receives a snapshot message holding the whole store,
// then one commit message per completed batch that changed the store:
//
//	{"type":"snapshot","version":3,"prices":[...]}
//	{"type":"commit","version":4,"batchId":"B7","prices":[...]}
//
// Versions are strictly increasing per connection. A subscriber that cannot keep
// up is disconnected instead of slowing down producers; reconnecting yields a
// fresh snapshot.
package feed
