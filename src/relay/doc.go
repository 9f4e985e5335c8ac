// Package relay carries a message to a node the sender is not connected to.
//
// The message is wrapped in a MessageRelay envelope addressed to the
// recipient's GUID. A Relayer hands the envelope to one hub at a time. A hub
// that has a link to the recipient forwards the inner message and answers
// with a delivery Acknowledgement. Otherwise it answers with a dead-end
// Acknowledgement listing itself as visited and its known hubs as candidates,
// and the Relayer moves on. Intermediate hubs only ever see the envelope.
//
// Delivery is best effort: a Relayer gives up when its lifetime elapses.
package relay
