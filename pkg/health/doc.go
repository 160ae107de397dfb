/*
Package health provides TCP-based reachability checks used while a node is
booting.

The updater's wait-for-reachable phase polls a TCPChecker against the
node's address until it accepts connections (or a timeout elapses), mirroring
the "wait until the node accepts SSH" step of the original autoscaler. The
checker interface is deliberately narrow (Check/Type) so the updater's
state machine does not need to know which transport is behind it.
*/
package health
