package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fenlabs/ballast/pkg/config"
)

func TestLeasePartitionID(t *testing.T) {
	assert.Equal(t, "balance-changes/0", LeasePartitionID("balance-changes", 0))
	assert.Equal(t, "balance-changes/12", LeasePartitionID("balance-changes", 12))
}

func TestWorkerConfigFromConfig(t *testing.T) {
	e := New(config.Default())

	wc := e.workerConfig(3)
	assert.Equal(t, int32(3), wc.Partition)
	assert.Equal(t, "balance-changes", wc.Topic)
	assert.Equal(t, "ballast", wc.Group)
	assert.Equal(t, 200, wc.MaxRecords)
	assert.Equal(t, 100*time.Millisecond, wc.MaxLatency)
	assert.Equal(t, time.Second, wc.LongPoll)
	assert.Equal(t, 3, wc.MaxRetries)
	assert.Equal(t, "balance-changes-dlq", wc.DLQTopic)
	assert.Equal(t, 8192, wc.WorkingSetSize)
}

func TestTransportConfigFromConfig(t *testing.T) {
	e := New(config.Default())

	tc := e.transportConfig()
	assert.Equal(t, []string{"localhost:9092"}, tc.Brokers)
	assert.Equal(t, "balance-changes", tc.Topic)
	assert.Equal(t, "balance-changes-dlq", tc.DLQTopic)
	assert.Equal(t, int32(4), tc.Partitions)
	assert.Equal(t, int16(1), tc.ReplicationFactor)
}

func TestFatalDoesNotBlock(t *testing.T) {
	e := New(config.Default())

	e.fatal(assert.AnError)
	e.fatal(assert.AnError) // buffer full, must not block

	select {
	case err := <-e.Fatal():
		assert.Error(t, err)
	default:
		t.Fatal("expected a fatal error to be buffered")
	}
}
