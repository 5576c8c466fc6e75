package taskloop

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateOf reads a task state with the turn held, safe after the root
// finished.
func stateOf(l *Loop, t *Task) State {
	var s State
	l.Do(func() { s = t.State() })
	return s
}

func TestRunToDone(t *testing.T) {
	loop := NewLoop()
	var order []string
	root := loop.Run(func(rt *Task) error {
		order = append(order, "root")
		_, err := rt.Spawn(func(ct *Task) error {
			order = append(order, "child")
			return nil
		}, WithName("child"))
		return err
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"root", "child"}, order)
	assert.Equal(t, StateDone, stateOf(loop, root))
}

func TestDependencyOrdersExecution(t *testing.T) {
	loop := NewLoop()
	var order []string
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(func(*Task) error {
			order = append(order, "a")
			return nil
		}, WithName("a"))
		require.NoError(t, err)
		b, err := rt.Spawn(func(*Task) error {
			order = append(order, "b")
			return nil
		}, WithName("b"))
		require.NoError(t, err)
		return b.DependsOn(a)
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestDependencyFailurePropagates(t *testing.T) {
	loop := NewLoop()
	boom := errors.New("boom")
	var a, b *Task
	root := loop.Run(func(rt *Task) error {
		var err error
		a, err = rt.Spawn(func(*Task) error { return boom }, WithName("a"))
		require.NoError(t, err)
		b, err = rt.Spawn(func(bt *Task) error {
			return bt.Sleep(time.Hour)
		}, WithName("b"))
		require.NoError(t, err)
		return b.DependsOn(a)
	})
	err := root.Wait()
	require.Error(t, err)
	var fe *FailedError
	require.ErrorAs(t, err, &fe)
	var cf *ChildFailedError
	assert.ErrorAs(t, err, &cf)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, StateFailed, stateOf(loop, a))
	assert.Equal(t, StateDiscarded, stateOf(loop, b))
	assert.Equal(t, StateFailed, stateOf(loop, root))
}

func TestErrorHandlerRecovers(t *testing.T) {
	loop := NewLoop()
	boom := errors.New("boom")
	var c, d *Task
	var handled error
	root := loop.Run(func(rt *Task) error {
		var err error
		c, err = rt.Spawn(func(ct *Task) error {
			d, err = ct.Spawn(func(*Task) error { return boom }, WithName("d"))
			require.NoError(t, err)
			ct.HandleErrorFrom(d, func(e error) error {
				handled = e
				return nil
			})
			return nil
		}, WithName("c"))
		return err
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, StateFailed, stateOf(loop, d))
	assert.Equal(t, StateDone, stateOf(loop, c))
	assert.Equal(t, StateDone, stateOf(loop, root))
	var cf *ChildFailedError
	require.ErrorAs(t, handled, &cf)
	assert.Same(t, d, cf.Child)
	assert.ErrorIs(t, handled, boom)
}

func TestFallbackHandlerAndSpecificOverride(t *testing.T) {
	loop := NewLoop()
	var seen []string
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(func(*Task) error { return errors.New("a failed") }, WithName("a"))
		require.NoError(t, err)
		b, err := rt.Spawn(func(*Task) error { return errors.New("b failed") }, WithName("b"))
		require.NoError(t, err)
		rt.HandleErrors(func(err error) error {
			seen = append(seen, "fallback")
			return nil
		})
		rt.HandleErrorFrom(a, func(err error) error {
			seen = append(seen, "specific")
			return nil
		})
		_ = b
		return nil
	})
	require.NoError(t, root.Wait())
	assert.ElementsMatch(t, []string{"specific", "fallback"}, seen)
}

func TestHandlerErrorFailsTask(t *testing.T) {
	loop := NewLoop()
	replaced := errors.New("replaced")
	root := loop.Run(func(rt *Task) error {
		c, err := rt.Spawn(func(*Task) error { return errors.New("inner") }, WithName("c"))
		require.NoError(t, err)
		rt.HandleErrorFrom(c, func(error) error { return replaced })
		return nil
	})
	err := root.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, replaced)
}

func TestCancelChildDoesNotAffectCanceller(t *testing.T) {
	loop := NewLoop()
	var child *Task
	root := loop.Run(func(rt *Task) error {
		var err error
		child, err = rt.Spawn(func(ct *Task) error {
			return ct.Sleep(time.Hour)
		}, WithName("child"))
		require.NoError(t, err)
		child.Cancel()
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, StateCancelled, stateOf(loop, child))
	assert.Equal(t, StateDone, stateOf(loop, root))
}

func TestExternalCancelDiscardsDependents(t *testing.T) {
	loop := NewLoop()
	started := make(chan struct{})
	var a, b *Task
	root := loop.Run(func(rt *Task) error {
		var err error
		a, err = rt.Spawn(func(at *Task) error {
			close(started)
			return at.Sleep(time.Hour)
		}, WithName("a"))
		require.NoError(t, err)
		b, err = rt.Spawn(func(bt *Task) error { return nil }, WithName("b"))
		require.NoError(t, err)
		return b.DependsOn(a)
	})
	<-started
	loop.Do(a.Cancel)
	err := root.Wait()
	var ce *CancelledError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StateCancelled, stateOf(loop, a))
	assert.Equal(t, StateDiscarded, stateOf(loop, b))
	assert.Equal(t, StateDiscarded, stateOf(loop, root))
}

func TestDependencyCycleRejected(t *testing.T) {
	loop := NewLoop()
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(nil, WithName("a"))
		require.NoError(t, err)
		b, err := rt.Spawn(nil, WithName("b"))
		require.NoError(t, err)
		require.NoError(t, a.DependsOn(b))
		err = b.DependsOn(a)
		var cyc *DependencyCycleError
		require.ErrorAs(t, err, &cyc)
		require.ErrorAs(t, b.DependsOn(b), &cyc)
		return nil
	})
	require.NoError(t, root.Wait())
}

func TestDependOnFinishedTask(t *testing.T) {
	loop := NewLoop()
	var ran bool
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(nil, WithName("a"))
		require.NoError(t, err)
		require.NoError(t, rt.WaitFor(a))
		b, err := rt.Spawn(func(*Task) error {
			ran = true
			return nil
		}, WithName("b"))
		require.NoError(t, err)
		return b.DependsOn(a)
	})
	require.NoError(t, root.Wait())
	assert.True(t, ran)
}

func TestDependOnFailedTaskPropagatesImmediately(t *testing.T) {
	loop := NewLoop()
	var b *Task
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(func(*Task) error { return errors.New("boom") }, WithName("a"))
		require.NoError(t, err)
		rt.HandleErrorFrom(a, func(error) error { return nil })
		require.Error(t, rt.WaitFor(a))
		b, err = rt.Spawn(nil, WithName("b"))
		require.NoError(t, err)
		rt.HandleErrorFrom(b, func(error) error { return nil })
		return b.DependsOn(a)
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, StateFailed, stateOf(loop, b))
	var df *DependencyFailedError
	var failure error
	loop.Do(func() { failure = b.Failure() })
	require.ErrorAs(t, failure, &df)
}

func TestSpawnOnTerminalTaskFails(t *testing.T) {
	loop := NewLoop()
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(nil, WithName("a"))
		require.NoError(t, err)
		require.NoError(t, rt.WaitFor(a))
		_, err = a.Spawn(nil)
		var ise *InvalidStateError
		require.ErrorAs(t, err, &ise)
		return nil
	})
	require.NoError(t, root.Wait())
}

func TestDependsOnAfterStartFails(t *testing.T) {
	loop := NewLoop()
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(nil, WithName("a"))
		require.NoError(t, err)
		err = rt.DependsOn(a)
		var ise *InvalidStateError
		require.ErrorAs(t, err, &ise)
		return nil
	})
	require.NoError(t, root.Wait())
}

func TestBackgroundWaitHoldsTask(t *testing.T) {
	loop := NewLoop()
	var order []string
	root := loop.Run(func(rt *Task) error {
		c, err := rt.Spawn(func(ct *Task) error {
			return ct.Background(func(bt *Task) error {
				if err := bt.Sleep(20 * time.Millisecond); err != nil {
					return err
				}
				order = append(order, "background")
				return nil
			}, true)
		}, WithName("c"))
		require.NoError(t, err)
		if err := rt.WaitFor(c); err != nil {
			return err
		}
		order = append(order, "after")
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"background", "after"}, order)
}

func TestBackgroundErrorFailsTask(t *testing.T) {
	loop := NewLoop()
	boom := errors.New("boom")
	root := loop.Run(func(rt *Task) error {
		return rt.Background(func(*Task) error { return boom }, true)
	})
	err := root.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestBlockFinishing(t *testing.T) {
	loop := NewLoop()
	var order []string
	root := loop.Run(func(rt *Task) error {
		c, err := rt.Spawn(func(ct *Task) error {
			release := ct.BlockFinishing()
			go func() {
				time.Sleep(20 * time.Millisecond)
				ct.Do(func() {
					order = append(order, "release")
					release()
				})
			}()
			return nil
		}, WithName("c"))
		require.NoError(t, err)
		if err := rt.WaitFor(c); err != nil {
			return err
		}
		order = append(order, "after")
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"release", "after"}, order)
}

func TestWaitForReturnsOutcome(t *testing.T) {
	loop := NewLoop()
	boom := errors.New("boom")
	var got error
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(func(*Task) error { return boom }, WithName("a"))
		require.NoError(t, err)
		rt.HandleErrorFrom(a, func(error) error { return nil })
		got = rt.WaitFor(a)
		return nil
	})
	require.NoError(t, root.Wait())
	var fe *FailedError
	require.ErrorAs(t, got, &fe)
	assert.ErrorIs(t, got, boom)
}

func TestSleepInterruptedByCancel(t *testing.T) {
	loop := NewLoop()
	started := make(chan struct{})
	slept := make(chan struct{})
	var sleeper *Task
	var sleepErr error
	root := loop.Run(func(rt *Task) error {
		var err error
		sleeper, err = rt.Spawn(func(ct *Task) error {
			close(started)
			sleepErr = ct.Sleep(time.Hour)
			close(slept)
			return sleepErr
		}, WithName("sleeper"))
		require.NoError(t, err)
		rt.HandleErrors(func(error) error { return nil })
		return nil
	})
	<-started
	loop.Do(sleeper.Cancel)
	require.NoError(t, root.Wait())
	<-slept
	var ce *CancelledError
	require.ErrorAs(t, sleepErr, &ce)
	assert.Equal(t, StateCancelled, stateOf(loop, sleeper))
}

func TestSiblingNamesUnique(t *testing.T) {
	loop := NewLoop()
	var names []string
	root := loop.Run(func(rt *Task) error {
		for i := 0; i < 3; i++ {
			c, err := rt.Spawn(nil, WithName("worker"))
			require.NoError(t, err)
			names = append(names, c.Name())
		}
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"worker", "worker-2", "worker-3"}, names)
}

func TestPath(t *testing.T) {
	loop := NewLoop()
	var path string
	root := loop.Run(func(rt *Task) error {
		c, err := rt.Spawn(func(ct *Task) error {
			g, err := ct.Spawn(nil, WithName("leaf"))
			if err != nil {
				return err
			}
			path = g.Path()
			return nil
		}, WithName("mid"))
		require.NoError(t, err)
		_ = c
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, "root.mid.leaf", path)
}

func TestFailureDiscardsOwnChildren(t *testing.T) {
	loop := NewLoop()
	var inner *Task
	root := loop.Run(func(rt *Task) error {
		c, err := rt.Spawn(func(ct *Task) error {
			var ierr error
			inner, ierr = ct.Spawn(func(it *Task) error {
				return it.Sleep(time.Hour)
			}, WithName("inner"))
			require.NoError(t, ierr)
			return fmt.Errorf("outer failed")
		}, WithName("outer"))
		require.NoError(t, err)
		rt.HandleErrorFrom(c, func(error) error { return nil })
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, StateDiscarded, stateOf(loop, inner))
}

func TestWaitObservesTerminalState(t *testing.T) {
	// The finished signal may be resolved from the last child's goroutine;
	// a waiter racing for the turn must still see the terminal state.
	for i := 0; i < 100; i++ {
		loop := NewLoop()
		root := loop.Run(func(rt *Task) error {
			_, err := rt.Spawn(func(*Task) error { return nil }, WithName("c"))
			return err
		})
		require.NoError(t, root.Wait())
		assert.Equal(t, StateDone, stateOf(loop, root))
	}
}

func TestPropagatedErrorMessages(t *testing.T) {
	loop := NewLoop()
	boom := errors.New("boom")
	root := loop.Run(func(rt *Task) error {
		_, err := rt.Spawn(func(*Task) error { return boom }, WithName("c"))
		return err
	})
	err := root.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom", "child failure keeps the cause text")

	loop = NewLoop()
	var b *Task
	root = loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(func(*Task) error { return boom }, WithName("a"))
		if err != nil {
			return err
		}
		b, err = rt.Spawn(nil, WithName("b"))
		if err != nil {
			return err
		}
		rt.HandleErrors(func(error) error { return nil })
		return b.DependsOn(a)
	})
	require.NoError(t, root.Wait())
	err = b.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency root.a failed")
	assert.Contains(t, err.Error(), "boom", "dependency failure keeps the cause text")
}
