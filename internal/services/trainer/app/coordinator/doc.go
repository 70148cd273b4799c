// Package coordinator owns the live training sessions of one trainer process.
//
// Each session pairs a phase machine with its delta history and the version
// the client last acknowledged. Updates are always diffed from that
// acknowledged base, so an update lost in transit is folded into the next one.
// Sessions outlive their connection: a client re-attaches with its resume
// token and the last version it applied.
package coordinator
