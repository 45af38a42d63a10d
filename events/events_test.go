package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestEventPublishingAndSubscribing creates EventEmitter objects, subscribes EventHandler
// callbacks to them, and ensures that the events are received as intended.
func TestEventPublishingAndSubscribing(t *testing.T) {
	// Define some event types
	type TestEventA struct{}
	type TestEventB struct{}

	// Create event emitters for both events.
	eventAEmitter1 := EventEmitter[TestEventA]{}
	eventAEmitter2 := EventEmitter[TestEventA]{}
	eventBEmitter1 := EventEmitter[TestEventB]{}

	// Track how many times each callback is invoked.
	var eventAEmitter1PublishCount,
		eventAEmitter2PublishCount,
		eventBEmitter1PublishCount,
		eventAEmitterGlobalPublishCount int

	// Create our callback methods for each event, where we update our count of published events.
	eventAEmitter1.Subscribe(func(event TestEventA) error {
		eventAEmitter1PublishCount++
		return nil
	})
	eventAEmitter2.Subscribe(func(event TestEventA) error {
		eventAEmitter2PublishCount++
		return nil
	})
	eventBEmitter1.Subscribe(func(event TestEventB) error {
		eventBEmitter1PublishCount++
		return nil
	})
	SubscribeAny(func(event TestEventA) error {
		eventAEmitterGlobalPublishCount++
		return nil
	})

	// Publish events a given amount of times.
	const (
		expectedEventAEmitter1PublishCount = 2
		expectedEventAEmitter2PublishCount = 5
		expectedEventBEmitter1PublishCount = 9
	)
	for i := 0; i < expectedEventAEmitter1PublishCount; i++ {
		assert.NoError(t, eventAEmitter1.Publish(TestEventA{}))
	}
	for i := 0; i < expectedEventAEmitter2PublishCount; i++ {
		assert.NoError(t, eventAEmitter2.Publish(TestEventA{}))
	}
	for i := 0; i < expectedEventBEmitter1PublishCount; i++ {
		assert.NoError(t, eventBEmitter1.Publish(TestEventB{}))
	}

	// Assert we received the expected amount of callbacks.
	assert.EqualValues(t, expectedEventAEmitter1PublishCount, eventAEmitter1PublishCount)
	assert.EqualValues(t, expectedEventAEmitter2PublishCount, eventAEmitter2PublishCount)
	assert.EqualValues(t, expectedEventBEmitter1PublishCount, eventBEmitter1PublishCount)
	assert.EqualValues(t, expectedEventAEmitter1PublishCount+expectedEventAEmitter2PublishCount, eventAEmitterGlobalPublishCount)
}

// TestEventHandlerError ensures a handler error aborts publishing and surfaces to the publisher.
func TestEventHandlerError(t *testing.T) {
	type TestEvent struct{}

	emitter := EventEmitter[TestEvent]{}
	invoked := 0
	emitter.Subscribe(func(TestEvent) error {
		invoked++
		return fmt.Errorf("handler rejected the event")
	})
	emitter.Subscribe(func(TestEvent) error {
		invoked++
		return nil
	})

	err := emitter.Publish(TestEvent{})
	assert.Error(t, err)
	assert.Equal(t, 1, invoked)
}
