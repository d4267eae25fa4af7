package validation

import (
	"unicode/utf8"

	"github.com/devrev/pairdb/replica-node/internal/errors"
	"github.com/devrev/pairdb/replica-node/internal/model"
)

const (
	// Size limits
	MaxKeySize   = 1024             // 1 KB
	MaxValueSize = 10 * 1024 * 1024 // 10 MB
)

// Validator validates writes and reads before they reach the store
type Validator struct {
	maxKeySize   int
	maxValueSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:   MaxKeySize,
		maxValueSize: MaxValueSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxKeySize, maxValueSize int) *Validator {
	return &Validator{
		maxKeySize:   maxKeySize,
		maxValueSize: maxValueSize,
	}
}

// ValidateWrite validates every op of a write
func (v *Validator) ValidateWrite(write model.Write) error {
	var prev model.Key
	for i, op := range write.Ops {
		if err := v.ValidateKey(op.Key); err != nil {
			return err
		}
		if !op.Delete && len(op.Value) > v.maxValueSize {
			return errors.InvalidArgument("value too large", nil).
				WithDetail("key", string(op.Key)).
				WithDetail("size", len(op.Value)).
				WithDetail("max_size", v.maxValueSize)
		}
		if i > 0 && op.Key < prev {
			return errors.InvalidArgument("write ops out of key order", nil).
				WithDetail("key", string(op.Key))
		}
		prev = op.Key
	}
	return nil
}

// ValidateKey validates a single key
func (v *Validator) ValidateKey(key model.Key) error {
	if len(key) == 0 {
		return errors.InvalidArgument("key is empty", nil)
	}
	if len(key) > v.maxKeySize {
		return errors.InvalidArgument("key too large", nil).
			WithDetail("size", len(key)).
			WithDetail("max_size", v.maxKeySize)
	}
	if !utf8.ValidString(string(key)) {
		// Keys are opaque bytes on the wire but must round-trip through
		// JSON diagnostics, so reject invalid UTF-8 at the edge.
		return errors.InvalidArgument("key is not valid UTF-8", nil)
	}
	return nil
}

// ValidateRead validates a read request
func (v *Validator) ValidateRead(read model.Read) error {
	return v.ValidateKey(read.Key)
}

// EstimateWriteSize estimates the bytes a write will occupy, for
// admission decisions.
func EstimateWriteSize(write model.Write) uint64 {
	var total uint64
	for _, op := range write.Ops {
		total += uint64(len(op.Key)) + uint64(len(op.Value)) + 16
	}
	return total
}
