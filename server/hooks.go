package server

// Hooks are optional session lifecycle callbacks. They run on the session's
// goroutine, or on the goroutine calling Close; a panicking hook is logged
// and does not interrupt the session or its teardown.
type Hooks struct {
	// OnConnect runs before the welcome banner is sent.
	OnConnect func(c *Conn)

	// OnDisconnect runs at the start of Close, before the sockets close.
	OnDisconnect func(c *Conn)

	// OnRemove runs once the session has left the server's session list.
	OnRemove func(c *Conn)
}
