package core

// Checkpoint stores the state of the last durable checkpoint. A stable
// checkpoint is tied to the timestamp it was taken at; an unstable
// checkpoint has HasStableTimestamp unset and its timestamp fields zero.
type Checkpoint struct {
	HasStableTimestamp uint8
	StableSeconds      uint32
	StableIncrement    uint32
}

// StableTimestamp returns the checkpoint's timestamp and whether it is stable.
func (c Checkpoint) StableTimestamp() (Timestamp, bool) {
	if c.HasStableTimestamp == 0 {
		return Timestamp{}, false
	}
	return NewTimestamp(c.StableSeconds, c.StableIncrement), true
}

// NewStableCheckpoint builds a checkpoint record tied to ts.
func NewStableCheckpoint(ts Timestamp) Checkpoint {
	return Checkpoint{HasStableTimestamp: 1, StableSeconds: ts.Seconds, StableIncrement: ts.Increment}
}
