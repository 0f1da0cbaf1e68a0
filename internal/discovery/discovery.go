// Package discovery implements the discovery collaborator: it watches
// for AppleMIDI peers advertising "_apple-midi._udp" over mDNS and hands
// them to callbacks that enqueue a task (C7), rather than touching
// session state directly from its own goroutine.
package discovery

// Discovery is the collaborator interface the engine wires to the task
// queue. The added and removed callbacks passed to Start are invoked
// from the discovery goroutine and must themselves do nothing but
// enqueue a task; they never touch session state.
type Discovery interface {
	// Start begins watching for service announcements, invoking the
	// callbacks for the add/remove events the implementation observes
	// until Stop is called. It returns once the listener is bound, with
	// watching continuing in the background.
	Start(added, removed func(host string, port int)) error

	// Stop releases the underlying listener.
	Stop() error
}
