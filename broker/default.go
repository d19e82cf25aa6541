package broker

import "sync"

var (
	defaultOnce   sync.Once
	defaultBroker *Broker
)

// InitDefault creates and starts the process-wide broker on its first call.
// Later calls return the existing instance and ignore opts; the boolean
// reports whether this call created it.
func InitDefault(opts Options) (*Broker, bool) {
	created := false
	defaultOnce.Do(func() {
		defaultBroker = New(opts)
		defaultBroker.Start()
		created = true
	})
	return defaultBroker, created
}

// Default returns the process-wide broker, creating it with default options
// if InitDefault has not run yet.
func Default() *Broker {
	b, _ := InitDefault(Options{})
	return b
}

// resetDefault closes the process-wide broker and forgets it. It is intended for tests.
func resetDefault() {
	if defaultBroker != nil {
		defaultBroker.Close()
		defaultBroker = nil
	}
	defaultOnce = sync.Once{}
}
