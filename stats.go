package multidb

// Stats receives routing statistics. Calls are fire-and-forget: an
// implementation must not block, and a panic inside it is swallowed.
type Stats interface {
	// Query is called for every dispatched operation with the name of the
	// handle it was sent to.
	Query(operation, target string)
	// Lag is called after every replication lag probe.
	Lag(replica string, lag Lag)
}

type nopStats struct{}

func (nopStats) Query(string, string) {}
func (nopStats) Lag(string, Lag)      {}

// safeStats shields the router from a misbehaving sink.
type safeStats struct {
	stats Stats
}

func (s safeStats) Query(operation, target string) {
	defer func() { _ = recover() }()
	s.stats.Query(operation, target)
}

func (s safeStats) Lag(replica string, lag Lag) {
	defer func() { _ = recover() }()
	s.stats.Lag(replica, lag)
}
