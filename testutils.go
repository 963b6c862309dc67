package commhub

// NewCentralDummy creates a Central backed entirely by in-memory stores.
// Useful for testing, and for running a frontend without a database.
func NewCentralDummy(logfile string) *Central {
	return NewCentral(logfile, newDummyUserStore(), newDummySessionDB(), newDummySiteDB(), newDummyDocStore())
}
