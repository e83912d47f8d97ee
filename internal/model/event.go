package model

// Event is one decoded upstream feed message: a Tick, a DepthUpdate or a
// Quote. Consumers type-switch on the concrete value.
type Event interface {
	isEvent()
}

func (Tick) isEvent()        {}
func (DepthUpdate) isEvent() {}
func (Quote) isEvent()       {}
