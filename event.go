package sros

// eventChargeBytes is the nominal size an Event is accounted for against
// the global heap, mirroring tcbChargeBytes; see DESIGN.md.
const eventChargeBytes = 32

// Event is a single routed event: a type/subtype pair, its sender and
// destination TCBs, and a singly-linked next pointer for its queue.
// Events are allocated from the global heap, never from a task heap, so
// they can survive sender/receiver lifetime boundaries within one hop.
type Event struct {
	Type, Subtype uint32
	Sender, Dest  *TCB
	next          *Event
	charge        []byte
}

// eventQueue is a singly-linked FIFO with head, tail, and a count, used for
// both the broker's system inbox and every task's per-task inbox.
type eventQueue struct {
	head, tail *Event
	count      int
}

func newEventQueue() *eventQueue { return &eventQueue{} }

func (q *eventQueue) enqueue(e *Event) {
	e.next = nil
	if q.tail != nil {
		q.tail.next = e
	} else {
		q.head = e
	}
	q.tail = e
	q.count++
}

func (q *eventQueue) dequeue() *Event {
	if q.head == nil {
		return nil
	}
	e := q.head
	q.head = e.next
	if q.head == nil {
		q.tail = nil
	}
	e.next = nil
	q.count--
	return e
}

// GenerateEvent allocates an event from the global heap, addressed to dest
// (the caller, if dest is nil), and enqueues it into the broker's inbox —
// not the destination's — marking the broker runnable, then yields. If the
// event cannot be allocated it returns the error without yielding.
// Nonblocking for the caller: it returns success even if dest is killed
// before the broker actually routes the event (see brokerEntry).
func (k *Kernel) GenerateEvent(dest *TCB, typ, subtype uint32) error {
	self := k.CurrentTCB()
	if dest == nil {
		dest = self
	}

	k.mu.Lock()
	charge, err := k.globalHeap.Alloc(eventChargeBytes)
	if err != nil {
		k.mu.Unlock()
		return WrapError("generate_event", err)
	}
	e := &Event{Type: typ, Subtype: subtype, Sender: self, Dest: dest, charge: charge}
	k.broker.inbox.enqueue(e)
	k.broker.status.Store(StatusRunnable)
	k.mu.Unlock()

	k.Yield()
	return nil
}

// CheckEvent is nonblocking. If the caller's inbox is empty, it returns
// immediately without yielding, reporting type 0 and a nil sender. Otherwise
// it dequeues the oldest event, frees it, yields, and returns its
// type/subtype and sender.
func (k *Kernel) CheckEvent() (typ, subtype uint32, sender *TCB) {
	self := k.CurrentTCB()

	k.mu.Lock()
	e := self.inbox.dequeue()
	k.mu.Unlock()
	if e == nil {
		return 0, 0, nil
	}

	typ, subtype, sender = e.Type, e.Subtype, e.Sender
	k.mu.Lock()
	if err := k.globalHeap.Free(e.charge); err != nil {
		k.logCorruption(err)
	}
	k.mu.Unlock()

	k.Yield()
	return typ, subtype, sender
}

// WaitEvent blocks until the caller's inbox is non-empty. While empty, the
// caller increments its own status (block count) and sets
// WaitingForEvent, then yields and retries on resumption; status is
// decremented and the flag cleared by the broker at delivery time, not by
// the waking task. Once an event is present it is dequeued, freed, and
// returned without an additional trailing yield.
func (k *Kernel) WaitEvent() (typ, subtype uint32, sender *TCB) {
	self := k.CurrentTCB()
	for {
		k.mu.Lock()
		e := self.inbox.dequeue()
		if e == nil {
			self.status.Add(1)
			self.flags.set(flagWaitingForEvent)
			k.mu.Unlock()
			k.Yield()
			continue
		}
		k.mu.Unlock()

		typ, subtype, sender = e.Type, e.Subtype, e.Sender
		k.mu.Lock()
		if err := k.globalHeap.Free(e.charge); err != nil {
			k.logCorruption(err)
		}
		k.mu.Unlock()
		return typ, subtype, sender
	}
}

// brokerEntry is the TaskEntry of the one process-wide broker task, created
// by Boot at the configured broker priority (PriorityBroker unless
// WithBrokerPriority overrides it). It drains its inbox, routing each event into
// its destination's inbox and clearing that destination's WaitingForEvent
// block if set, then suspends itself until GenerateEvent wakes it again.
//
// An event whose destination has already been killed (but not yet reaped)
// is dropped here rather than delivered into a dead task's inbox — see
// DESIGN.md for this open-question resolution.
func brokerEntry(k *Kernel, arg any) uint32 {
	self := k.CurrentTCB()
	for {
		for {
			k.mu.Lock()
			e := self.inbox.dequeue()
			if e == nil {
				k.mu.Unlock()
				break
			}
			dest := e.Dest
			if dest.Status() == StatusKilled {
				if err := k.globalHeap.Free(e.charge); err != nil {
					k.logCorruption(err)
				}
				k.mu.Unlock()
				continue
			}
			if dest.flags.has(flagWaitingForEvent) {
				dest.status.Add(-1)
				dest.flags.clear(flagWaitingForEvent)
			}
			dest.inbox.enqueue(e)
			k.mu.Unlock()
		}
		self.status.Store(StatusSuspended)
		k.Yield()
	}
}
