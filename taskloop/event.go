package taskloop

import (
	"reflect"
	"sort"
	"time"
)

// Event is the envelope delivered to listeners. Source is the task that
// emitted the payload, which may be a descendant of the listening task.
type Event struct {
	Source  *Task
	Payload any
	At      time.Time
}

// StateChange is emitted on every task state transition. From is empty for
// the initial transition into StatePending.
type StateChange struct {
	From State
	To   State
}

// Interrupted is emitted on the root task when the driver receives an
// interrupt signal, before the root is cancelled.
type Interrupted struct{}

type eventReg struct {
	seq int
	fn  func(Event) error
}

type eventTail struct {
	sig  *Signal
	ev   Event
	next *eventTail
}

func keyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit publishes payload on the event bus. The event is visible on t and on
// every ancestor of t, delivered synchronously to handlers and streams in
// registration order before Emit returns. Must run while holding the turn.
func Emit[T any](t *Task, payload T) {
	emit(t, payload)
}

func emit(t *Task, payload any) {
	ev := Event{Source: t, Payload: payload, At: time.Now()}
	for cur := t; cur != nil; cur = cur.parent {
		cur.deliver(ev)
	}
}

// keyMatches reports whether a registration key observes a payload of type
// pt: either the exact concrete type or an interface pt implements.
func keyMatches(key, pt reflect.Type) bool {
	if key == pt {
		return true
	}
	return key.Kind() == reflect.Interface && pt.Implements(key)
}

func (t *Task) deliver(ev Event) {
	pt := reflect.TypeOf(ev.Payload)
	if pt == nil {
		return
	}
	if len(t.eventRegs) > 0 {
		var regs []*eventReg
		for key, list := range t.eventRegs {
			if keyMatches(key, pt) {
				regs = append(regs, list...)
			}
		}
		sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
		for _, reg := range regs {
			if err := reg.fn(ev); err != nil {
				t.fail(err)
				break
			}
		}
	}
	for key, tail := range t.cursorTails {
		if !keyMatches(key, pt) || tail.sig.done {
			continue
		}
		tail.ev = ev
		tail.next = &eventTail{sig: NewSignal()}
		t.cursorTails[key] = tail.next
		tail.sig.Resolve(nil)
	}
}

// Handle registers a synchronous handler on t for payloads of type T. When T
// is an interface type the handler observes every payload implementing it.
// The handler runs while holding the turn; an error return fails t. The
// returned function removes the registration.
func Handle[T any](t *Task, fn func(src *Task, payload T) error) func() {
	key := keyOf[T]()
	if t.eventRegs == nil {
		t.eventRegs = map[reflect.Type][]*eventReg{}
	}
	t.eventSeq++
	reg := &eventReg{
		seq: t.eventSeq,
		fn: func(ev Event) error {
			payload, ok := ev.Payload.(T)
			if !ok {
				return nil
			}
			return fn(ev.Source, payload)
		},
	}
	t.eventRegs[key] = append(t.eventRegs[key], reg)
	return func() {
		list := t.eventRegs[key]
		for i, r := range list {
			if r == reg {
				t.eventRegs[key] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}
