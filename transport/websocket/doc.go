// Package websocket provides the websocket transport for the Paper client.
//
// The websocket package implements:
//   - A client Transport owning exactly one connection to the game server
//   - Non-blocking Connect, Send and Close
//   - A bounded connect timeout reported as ConnectError{Timeout: true}
//   - A thread-safe event queue delivered in arrival order by Drain
//   - A Hub that streams local session events to websocket subscribers
//
// Architecture:
//
// Transport dials on its own goroutine. Once open, a read pump and a write
// pump run under an errgroup; the first one to fail ends both. Socket
// goroutines never call into the session layer. They only append Opened,
// MessageReceived, Errored and Closed events to a queue. The owning
// goroutine calls Drain once per tick (or when Notify fires) and feeds the
// events to the session state machine, so session state has a single writer.
//
// Connection Lifecycle:
//
// 1. Disconnected: Connect validates the ws:// or wss:// URL and starts dialing
// 2. Connecting: the dial either opens (Opened) or fails (Errored with *ConnectError)
// 3. Open: Send queues frames for the write pump; pings keep the link alive
// 4. Closing: Close sends a close frame, or abandons an unfinished dial
// 5. Closed: a Closed event carries the close code; Connect may be called again
//
// Close while Connecting is safe. The dial result is discarded and Opened is
// never queued for it.
//
// Usage:
//
//	tr := websocket.New(websocket.WithConnectTimeout(5 * time.Second))
//	if err := tr.Connect("wss://paperserver-prd.dingodream.org/ws"); err != nil {
//		return err
//	}
//
//	for range ticker.C {
//		for _, ev := range tr.Drain() {
//			switch e := ev.(type) {
//			case websocket.Opened:
//			case websocket.MessageReceived:
//				machine.HandleRaw(e.Data)
//			case websocket.Errored:
//			case websocket.Closed:
//			}
//		}
//	}
//
// Concurrency:
//
// All Transport methods are safe for concurrent use. Events are produced on
// socket goroutines and consumed by whichever goroutine calls Drain.
package websocket
