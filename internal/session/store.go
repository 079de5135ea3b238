package session

// outboundStore keeps the most recent application messages for resend.
// Admin messages are never stored; resends gap-fill over them.
type outboundStore struct {
	size  int
	msgs  map[uint64]Message
	order []uint64
}

func newOutboundStore(size int) *outboundStore {
	if size <= 0 {
		size = 1
	}
	return &outboundStore{
		size:  size,
		msgs:  make(map[uint64]Message, size),
		order: make([]uint64, 0, size),
	}
}

func (s *outboundStore) put(m Message) {
	if len(s.order) == s.size {
		delete(s.msgs, s.order[0])
		s.order = append(s.order[:0], s.order[1:]...)
	}
	s.msgs[m.SeqNum] = m
	s.order = append(s.order, m.SeqNum)
}

func (s *outboundStore) get(seq uint64) (Message, bool) {
	m, ok := s.msgs[seq]
	return m, ok
}
