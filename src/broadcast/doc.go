// Package broadcast implements progressive, hub-by-hub delivery of a message
// through the overlay.
//
// A Broadcast starts from the hubs the node is connected to and sends to one
// of them at a time. Each hub answers with an Acknowledgement listing the hubs
// that have already seen the message and the hubs that could be tried next.
// The broadcast merges these lists, never returning to a visited hub, and
// moves on when the acknowledgement arrives or when the hop timer fires.
//
// The first pass over the candidates only uses existing persistent links.
// After that, temporary connections are opened to reach the remaining
// candidates, and hubs that cannot be reached are skipped.
//
// The relay and query protocols are both built on Broadcast.
package broadcast
