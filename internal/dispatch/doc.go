// Package dispatch implements the outbound message dispatch engine: an
// ordered task queue fed by operators, a fixed pool of sender identities
// bounding concurrency, a per-recipient session-window gate, the
// three-step send/activation sequencers with inter-step delays, a retry
// policy with jittered exponential backoff, and the inbound-confirmation
// watchdog that halts everything when the receiving pipeline goes silent.
package dispatch
