package stream

// phase is the lifecycle position shared by streams and writers.
// Transitions only move forward: active, closing, closed.
type phase uint8

const (
	phaseActive phase = iota
	phaseClosing
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseActive:
		return "active"
	case phaseClosing:
		return "closing"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}
