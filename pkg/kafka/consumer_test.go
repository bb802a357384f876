package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer()
	require.Error(t, err)
}

func TestNewConsumerDefaultsAndOverrides(t *testing.T) {
	c, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerGroupID("paper-trader"),
		WithConsumerStartOffset("latest"),
		WithConsumerWorkers(4),
		WithConsumerBufferSize(64),
	)
	require.NoError(t, err)
	assert.Equal(t, "paper-trader", c.cfg.GroupID)
	assert.Equal(t, "latest", c.cfg.StartOffset)
	assert.Equal(t, 4, c.cfg.WorkerCount)
	assert.Equal(t, 64, cap(c.msgChan))

	// zero values keep the defaults
	c2, err := NewConsumer(
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerWorkers(0),
		WithConsumerBufferSize(0),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, c2.cfg.WorkerCount)
	assert.Equal(t, 10, cap(c2.msgChan))
	assert.Equal(t, "earliest", c2.cfg.StartOffset)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	min, max := 50*time.Millisecond, 2*time.Second
	for attempt := 1; attempt <= 12; attempt++ {
		d := backoffWithJitter(min, max, attempt)
		assert.Greater(t, d, time.Duration(0), "attempt %d", attempt)
		assert.LessOrEqual(t, d, max, "attempt %d", attempt)
	}
}

func TestBackoffWithJitterDegenerateInputs(t *testing.T) {
	d := backoffWithJitter(0, 0, 1)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 50*time.Millisecond)

	// max below min is raised to min
	d = backoffWithJitter(time.Second, time.Millisecond, 3)
	assert.LessOrEqual(t, d, time.Second)
	assert.Greater(t, d, time.Duration(0))
}

func TestPartitionLockIsStable(t *testing.T) {
	c, err := NewConsumer(WithConsumerBrokers([]string{"localhost:9092"}))
	require.NoError(t, err)

	l1 := c.partitionLock("trades", 0)
	l2 := c.partitionLock("trades", 0)
	l3 := c.partitionLock("trades", 1)
	assert.Same(t, l1, l2)
	assert.NotSame(t, l1, l3)
}
