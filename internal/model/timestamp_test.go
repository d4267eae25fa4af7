package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestStateTimestampPredNext(t *testing.T) {
	ts := StateTimestamp(5)
	assert.Equal(t, StateTimestamp(4), ts.Pred())
	assert.Equal(t, StateTimestamp(6), ts.Next())
	assert.Panics(t, func() { StateTimestamp(0).Pred() })
}

func TestVersionEqual(t *testing.T) {
	branch := uuid.New()
	a := Version{Branch: branch, Timestamp: 3}
	assert.True(t, a.Equal(Version{Branch: branch, Timestamp: 3}))
	assert.False(t, a.Equal(Version{Branch: branch, Timestamp: 4}))
	assert.False(t, a.Equal(Version{Branch: uuid.New(), Timestamp: 3}))
}
