// Package node implements a hubnet node, the composition root of the overlay.
//
// A Node is either a hub or a leaf. Leaves open persistent links to one or
// more hubs; hubs link to each other and to their leaves. The connection
// manager owns the links, and the node answers the overlay protocol messages
// that arrive on them.
//
// Gossip
//
// Three throttled timers keep the neighbours of a node informed. The LNI timer
// announces the node's descriptor (LNIn) whenever its hub or leaf counts
// change, and at least every LNIMaxInterval. The KHL timer sends the
// known-hub list (KHLi) to persistent neighbours when it changes, and saves
// it to the store. The QHT timer sends the amalgamated query hash table
// (QHaT), the union of the local table and the tables of the persistent
// leaves, to the hubs the node is linked to.
//
// Relays
//
// RelayMessage wraps a message in an MRel envelope addressed to a GUID. The
// node delivers it directly when it has a link to the target. Otherwise a
// relay.Relayer walks the hubs one at a time; each hub either hands the
// message to its neighbour, or answers with a dead end listing the hubs to
// try next. Intermediate hubs only ever see the envelope.
//
// Queries
//
// Query floods a search for content through the hubs. The first hub a query
// reaches forwards it to the neighbouring hubs whose tables match and
// acknowledges with the hubs it covered and the hubs left. Every hub passes
// the query to the leaves whose tables match. A node whose local table
// matches fires the OnQueryHit callbacks; the application answers with
// SendQueryResult, or the node answers for itself when no callback is
// registered. The result is routed back to the origin over a
// temporary link, or through a relay when the origin cannot be reached.
//
// Envelopes
//
// ENCm and SIGm envelopes are opened by the node and their content is
// dispatched through the same handler table as any other message.
package node
