package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestEventType_Valid(t *testing.T) {
	for _, et := range []EventType{EventCreate, EventUpdate, EventDelete} {
		assert.True(t, et.Valid(), et)
	}
	assert.False(t, EventType("message_update").Valid())
	assert.False(t, EventType("").Valid())
}

func TestSubscriptionStatus_Valid(t *testing.T) {
	for _, s := range []SubscriptionStatus{SubscriptionActive, SubscriptionInactive, SubscriptionCanceled, SubscriptionPastDue} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, SubscriptionStatus("trialing").Valid())
}

func TestSignal_Deleted(t *testing.T) {
	sig := &Signal{}
	assert.False(t, sig.Deleted())

	now := time.Now()
	sig.DeletedAt = &now
	assert.True(t, sig.Deleted())
}

func TestConfigError(t *testing.T) {
	var err error = ConfigError{Message: "missing database dsn"}
	assert.EqualError(t, err, "missing database dsn")
}
