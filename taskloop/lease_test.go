package taskloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomkit/loom/taskloop/jobserver"
)

func TestLeaseBoundsConcurrency(t *testing.T) {
	client, err := jobserver.NewClient(jobserver.WithoutEnv(), jobserver.WithJobCount(2))
	require.NoError(t, err)
	defer client.Close()
	loop := NewLoop(WithJobs(client))

	running, peak, total := 0, 0, 0
	root := loop.Run(func(rt *Task) error {
		for i := 0; i < 5; i++ {
			_, err := rt.Spawn(func(ct *Task) error {
				running++
				if running > peak {
					peak = running
				}
				if err := ct.Sleep(10 * time.Millisecond); err != nil {
					return err
				}
				running--
				total++
				return nil
			}, WithName("worker"), WithLease())
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, 5, total)
	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 0)
}

func TestLeaseReleasedOnCancel(t *testing.T) {
	client, err := jobserver.NewClient(jobserver.WithoutEnv(), jobserver.WithJobCount(1))
	require.NoError(t, err)
	defer client.Close()
	loop := NewLoop(WithJobs(client))

	holderRunning := make(chan struct{})
	var holder *Task
	var ran bool
	root := loop.Run(func(rt *Task) error {
		holder, err = rt.Spawn(func(ct *Task) error {
			close(holderRunning)
			return ct.Sleep(time.Hour)
		}, WithName("holder"), WithLease())
		require.NoError(t, err)
		rt.HandleErrorFrom(holder, func(error) error { return nil })
		_, err = rt.Spawn(func(*Task) error {
			ran = true
			return nil
		}, WithName("waiter"), WithLease())
		return err
	})
	<-holderRunning
	loop.Do(holder.Cancel)
	require.NoError(t, root.Wait())
	assert.True(t, ran)
}
