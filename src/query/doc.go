// Package query implements the content search of the overlay.
//
// A Querier sends a Query, hop count zero, to one hub at a time. The hub
// answers with an Acknowledgement and passes a hopped copy of the query to
// the neighbours whose query hash tables may contain the searched content:
// hubs first, then its own leaves. Any node whose local table matches sends a
// Result straight back to the origin. The Querier completes on the first
// Result and gives up when its lifetime elapses; later results are ignored.
package query
