// Package transport carries trainer sessions over JSON websocket frames.
//
// Every frame is {type, request_id, payload}. Clients send session.open,
// session.resume, session.input, session.ack, session.resync and
// session.close; the server answers with session.opened, session.delta,
// session.error and session.closed. A connection drives at most one session
// at a time, and the session survives the connection so it can be resumed.
// Outbound frames go through a bounded per-connection queue with its own
// writer, so a slow client never holds up the session coordinator.
package transport
