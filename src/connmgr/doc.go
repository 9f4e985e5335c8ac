// Package connmgr manages the links of a node.
//
// Links are filed in three pools. Persistent links are the edges of the
// overlay. Temporary links are opened by the local node for a one-off
// exchange, such as returning a query result, and volatile links are the
// temporary links opened by remote nodes. Temporary and volatile links are
// closed when nobody holds them anymore.
//
// Every connection starts with a handshake: the dialler sends a CoRq carrying
// its identity, its known-hub list and the GUID it expects to reach; the
// acceptor answers with a CoRs carrying its own identity and list, or an error
// kind such as IncorrectNode. GetConnection deduplicates concurrent attempts
// to the same node so that all callers share one link.
package connmgr
