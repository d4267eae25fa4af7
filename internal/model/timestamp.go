package model

import (
	"fmt"

	"github.com/google/uuid"
)

// StateTimestamp is the total order over writes on a branch. Zero is the
// timestamp of the branch's birth; every write gets a successor of the
// previous write's timestamp.
type StateTimestamp uint64

// Pred returns the immediate predecessor.
func (t StateTimestamp) Pred() StateTimestamp {
	if t == 0 {
		panic("StateTimestamp.Pred: no predecessor of zero")
	}
	return t - 1
}

// Next returns the immediate successor.
func (t StateTimestamp) Next() StateTimestamp {
	return t + 1
}

func (t StateTimestamp) String() string {
	return fmt.Sprintf("ts(%d)", uint64(t))
}

// Version names the state of a key range: which branch it is on, and how
// far along that branch it has advanced.
type Version struct {
	Branch    uuid.UUID
	Timestamp StateTimestamp
}

// Equal reports whether two versions are identical.
func (v Version) Equal(other Version) bool {
	return v.Branch == other.Branch && v.Timestamp == other.Timestamp
}

func (v Version) String() string {
	return fmt.Sprintf("version(%s@%d)", v.Branch, uint64(v.Timestamp))
}
