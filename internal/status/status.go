package status

import "fmt"

// Status is shared by jobs, files and chunks.
type Status int32

const (
	Pending Status = iota
	Active
	Paused
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// IsTerminal reports whether a chunk in status s will not be touched again
// by the current run.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}
