package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartPollingRejectsFrequencyBelowMinimum(t *testing.T) {
	client, _ := newBootstrappedOfflineClient(t)
	client.checkFrequency = 9 * time.Minute
	err := client.StartPolling()
	require.Error(t, err)
}

func TestStartStopPollingRunsAtLeastOneCycle(t *testing.T) {
	client, _ := newBootstrappedOfflineClient(t)
	client.checkFrequency = minimumCheckFrequency

	received := make(chan Events, 1)
	client.notificationHandler = func(evts Events) { received <- evts }

	client.ticker = time.NewTicker(time.Millisecond)
	client.done = make(chan struct{})
	go client.pollLoop(client.ticker.C, client.done)
	defer client.StopPolling()

	select {
	case evts := <-received:
		assert.NotEmpty(t, evts.History)
	case <-time.After(time.Second):
		t.Fatal("poll loop never reported a cycle")
	}
}

func TestEventsHasErrors(t *testing.T) {
	var evts Events
	evts.push(time.Now(), InfoType, "ok")
	assert.False(t, evts.HasErrors())

	evts.push(time.Now(), ErrorType, "boom: %s", "reason")
	assert.True(t, evts.HasErrors())
	assert.Contains(t, evts.History[1].Description, "boom: reason")
}

func TestFrequencyOption(t *testing.T) {
	client, _ := newBootstrappedOfflineClient(t)
	Frequency(2 * time.Hour)(client)
	assert.Equal(t, 2*time.Hour, client.checkFrequency)
}
