package taskloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noteEvent struct {
	text string
}

type pingEvent struct{}

func (p pingEvent) Kind() string { return "ping" }

func (n noteEvent) Kind() string { return "note" }

type kinded interface {
	Kind() string
}

func TestEventsVisibleOnAncestors(t *testing.T) {
	loop := NewLoop()
	var got []string
	var sources []string
	root := loop.Run(func(rt *Task) error {
		Handle(rt, func(src *Task, n noteEvent) error {
			got = append(got, "root:"+n.text)
			sources = append(sources, src.Name())
			return nil
		})
		c, err := rt.Spawn(func(ct *Task) error {
			Handle(ct, func(src *Task, n noteEvent) error {
				got = append(got, "mid:"+n.text)
				return nil
			})
			g, err := ct.Spawn(func(gt *Task) error {
				Emit(gt, noteEvent{text: "hello"})
				return nil
			}, WithName("leaf"))
			if err != nil {
				return err
			}
			return ct.WaitFor(g)
		}, WithName("mid"))
		require.NoError(t, err)
		return rt.WaitFor(c)
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"mid:hello", "root:hello"}, got)
	assert.Equal(t, []string{"leaf"}, sources)
}

func TestInterfaceRegistrationObservesAllImplementations(t *testing.T) {
	loop := NewLoop()
	var kinds []string
	root := loop.Run(func(rt *Task) error {
		Handle(rt, func(_ *Task, k kinded) error {
			kinds = append(kinds, k.Kind())
			return nil
		})
		Emit(rt, noteEvent{text: "x"})
		Emit(rt, pingEvent{})
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"note", "ping"}, kinds)
}

func TestHandlerRegistrationOrder(t *testing.T) {
	loop := NewLoop()
	var order []string
	root := loop.Run(func(rt *Task) error {
		Handle(rt, func(_ *Task, _ kinded) error {
			order = append(order, "iface")
			return nil
		})
		Handle(rt, func(_ *Task, _ noteEvent) error {
			order = append(order, "concrete")
			return nil
		})
		Emit(rt, noteEvent{text: "x"})
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"iface", "concrete"}, order)
}

func TestHandlerRemoval(t *testing.T) {
	loop := NewLoop()
	count := 0
	root := loop.Run(func(rt *Task) error {
		remove := Handle(rt, func(_ *Task, _ noteEvent) error {
			count++
			return nil
		})
		Emit(rt, noteEvent{})
		remove()
		Emit(rt, noteEvent{})
		return nil
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, 1, count)
}

func TestHandlerErrorFailsListener(t *testing.T) {
	loop := NewLoop()
	root := loop.Run(func(rt *Task) error {
		c, err := rt.Spawn(func(ct *Task) error {
			Emit(ct, noteEvent{text: "bad"})
			return nil
		}, WithName("emitter"))
		require.NoError(t, err)
		rt.HandleErrorFrom(c, func(error) error { return nil })
		Handle(rt, func(_ *Task, n noteEvent) error {
			return assert.AnError
		})
		return nil
	})
	err := root.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestStreamDrainsThenReportsDone(t *testing.T) {
	loop := NewLoop()
	var got []string
	var last error
	root := loop.Run(func(rt *Task) error {
		producer, err := rt.Spawn(func(pt *Task) error {
			Emit(pt, noteEvent{text: "one"})
			Emit(pt, noteEvent{text: "two"})
			Emit(pt, noteEvent{text: "three"})
			return nil
		}, WithName("producer"))
		require.NoError(t, err)
		stream := Events[noteEvent](producer)
		_, err = rt.Spawn(func(ct *Task) error {
			for {
				n, _, err := stream.Next(ct)
				if err != nil {
					last = err
					return nil
				}
				got = append(got, n.text)
			}
		}, WithName("consumer"))
		return err
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.ErrorIs(t, last, ErrStreamDone)
}

func TestStreamOnFinishedTask(t *testing.T) {
	loop := NewLoop()
	var last error
	root := loop.Run(func(rt *Task) error {
		a, err := rt.Spawn(nil, WithName("a"))
		require.NoError(t, err)
		require.NoError(t, rt.WaitFor(a))
		stream := Events[noteEvent](a)
		_, _, last = stream.Next(rt)
		return nil
	})
	require.NoError(t, root.Wait())
	assert.ErrorIs(t, last, ErrStreamDone)
}

func TestStreamPredicate(t *testing.T) {
	loop := NewLoop()
	var got []string
	root := loop.Run(func(rt *Task) error {
		producer, err := rt.Spawn(func(pt *Task) error {
			Emit(pt, noteEvent{text: "keep"})
			Emit(pt, noteEvent{text: "drop"})
			Emit(pt, noteEvent{text: "keep"})
			return nil
		}, WithName("producer"))
		require.NoError(t, err)
		stream := EventsWhere(producer, func(n noteEvent) bool { return n.text == "keep" })
		return stream.Each(rt, func(_ *Task, n noteEvent) error {
			got = append(got, n.text)
			return nil
		})
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []string{"keep", "keep"}, got)
}

func TestStateChangeEvents(t *testing.T) {
	loop := NewLoop()
	var transitions []State
	root := loop.Run(func(rt *Task) error {
		c, err := rt.Spawn(nil, WithName("c"))
		require.NoError(t, err)
		Handle(rt, func(src *Task, sc StateChange) error {
			if src == c {
				transitions = append(transitions, sc.To)
			}
			return nil
		})
		return rt.WaitFor(c)
	})
	require.NoError(t, root.Wait())
	assert.Equal(t, []State{StatePending, StateRunning, StateWaiting, StateDone}, transitions)
}
