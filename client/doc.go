// Package client supervises a single connection to the SMHI lightning-strike
// feed.
//
// A Client dials the feed, classifies every frame as a strike or a heartbeat,
// and publishes named notifications (see package events). A heartbeat
// monitor watches the connection; when no heartbeat arrives within the
// configured timeout the client emits a timeout notification and replaces
// the connection without emitting stopped or started.
//
// # Concurrency
//
// All client state belongs to one control goroutine started by New. Start,
// Stop, inbound frames, handshake results and heartbeat misses are all
// handed to that goroutine. Notifications are delivered one at a time, in
// subscription order, and the control goroutine waits for every handler
// before it moves on. While it waits it still serves Start, Stop and
// handshake results, so handlers may call them directly:
//
//	c.Subscribe(events.Closed, func(ev events.Event) {
//		if ev.Err != nil {
//			c.Start(ctx, client.Quiet())
//		}
//	})
//
// Close waits for the control goroutine to finish, so a handler that wants
// to close the client does it from a new goroutine. Connection, Subscribe
// and Unsubscribe are safe from anywhere.
//
// # Usage
//
//	cfg, err := config.Load(config.WithEnv(os.Getenv))
//	c, err := client.New(cfg, client.WithLogger(logging.New()))
//	defer c.Close()
//
//	c.Subscribe(events.Strike, func(ev events.Event) {
//		fmt.Println(ev.Strike.CountryCode, ev.Strike.Pos.Lat, ev.Strike.Pos.Lon)
//	})
//	if err := c.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package client
