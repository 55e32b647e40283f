// Package transport carries feed frames over WebSocket.
//
// # Overview
//
// A Conn is receive-only from the caller's point of view: frames arrive on
// the Recv channel, and the only writes are keepalive pings and the close
// handshake. Dial negotiates the feed's sub-protocol and reports a rejected
// upgrade as a *HandshakeError carrying the HTTP status.
//
// # Usage
//
//	conn, err := transport.Dial(ctx, "wss://example/feed", header, transport.DefaultConfig())
//	if err != nil {
//	    var hs *transport.HandshakeError
//	    if errors.As(err, &hs) && hs.Unauthorized() {
//	        // bad credentials
//	    }
//	    return err
//	}
//	defer conn.Close()
//
//	for frame := range conn.Recv() {
//	    handle(frame)
//	}
//	// conn.Err() explains why Recv was closed.
//
// # Design Decisions
//
//   - Channel-based API: the read loop owns the socket and hands frames over
//   - No reconnection: the client package decides when to dial again
//
// # Thread Safety
//
// Close may be called from any goroutine and more than once. The Recv
// channel is closed when the read loop ends.
package transport
