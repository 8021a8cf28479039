// Package ingest applies batch commands read from a Kafka topic.
//
// Each message value is one JSON command:
//
//	{"action":"start","batchId":"B1"}
//	{"action":"upload","batchId":"B1","records":[{"instrumentId":"ABC","price":1.5,"asOf":1700000000000}]}
//	{"action":"complete","batchId":"B1"}
//	{"action":"cancel","batchId":"B1"}
//
// Commands for one batch must share a partition (key by batch id) so they are
// applied in order. Rejected and malformed commands are logged, counted and
// committed; they are never redelivered.
package ingest
