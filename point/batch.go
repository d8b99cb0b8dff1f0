package point

// Batch is the unit of delivery: a run of same-typed points for one
// channel of one dataset. Writers segment their buffers into batches;
// the engine hands batches to sinks. Points appear in submission order.
type Batch struct {
	// Dataset is the destination dataset ID of the owning stream.
	Dataset string
	// Channel identifies the channel the points belong to.
	Channel Descriptor
	// Type is the variant of every point in the batch.
	Type Type
	// Points holds the samples in submission order.
	Points []Point
}

// Len returns the number of points in the batch.
func (b Batch) Len() int {
	return len(b.Points)
}
