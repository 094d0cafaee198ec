package mqtt

// queuedMsg is a serialized message waiting for the broker.
type queuedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable, oldest
// first. Not safe for concurrent use; caller must synchronize.
type outbox struct {
	msgs     []queuedMsg
	capacity int
	dropped  int // since the last flush
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{msgs: make([]queuedMsg, 0, capacity), capacity: capacity}
}

// add queues m. A retained message replaces a queued retained message on the
// same topic, since the broker keeps only the last one. When the outbox is
// full the oldest message is dropped; add reports true for the first drop
// since the last flush.
func (o *outbox) add(m queuedMsg) bool {
	if m.retained {
		for i, q := range o.msgs {
			if q.retained && q.topic == m.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}

	var first bool
	if len(o.msgs) == o.capacity {
		first = o.dropped == 0
		o.dropped++
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
	}
	o.msgs = append(o.msgs, m)
	return first
}

// flush empties the outbox, returning its messages oldest first and how many
// were dropped while they waited.
func (o *outbox) flush() ([]queuedMsg, int) {
	if len(o.msgs) == 0 && o.dropped == 0 {
		return nil, 0
	}
	msgs := make([]queuedMsg, len(o.msgs))
	copy(msgs, o.msgs)
	dropped := o.dropped

	o.msgs = o.msgs[:0]
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) len() int {
	return len(o.msgs)
}
