// Package peers defines how hubnet nodes describe themselves and the hubs they
// know about.
//
// A NodeInfo is the descriptor a node announces on every link: its GUID and
// public key (together a NodeID), its operating mode, how many hubs and leaves
// it is connected to, the endpoints where it can be reached, and a friendly
// name. The GUID and public key never change once a node has started; the
// rest is refreshed as the node's connections evolve.
//
// A KnownHubList splits the hubs a node knows into those it holds a persistent
// connection to and those it has only heard about. Nodes gossip their lists so
// that the overlay can discover new hubs and route around dead ends. Only the
// local connection manager moves a hub into the connected set; merging a
// remote list never does.
//
// Upon starting up, a node may find a peers.json file in its data directory
// listing seed hubs to connect to.
package peers
