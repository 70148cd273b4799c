// Package machine drives one exercise instance through the fixed round
// lifecycle:
//
//	Preparation -> Active -> Answer -> Feedback -> Preparation (next round)
//
// Preparation, Active and Feedback may carry a deadline that Tick enforces;
// Answer is transient and immediately followed by Feedback once the response
// is scored, but it is still emitted as its own snapshot version. A stop
// request ends the instance from any phase.
//
// The machine is not safe for concurrent use. Its owner serialises
// SubmitInput, Tick and Snapshot calls.
package machine
