package model

import "time"

// Frame is one encoded outbound viewer envelope, tagged with its type so
// downstream consumers can route it without decoding.
type Frame struct {
	Type    string
	Payload []byte
	// At is when the upstream data in the frame was received. Zero for
	// frames that do not carry feed data.
	At time.Time
}
