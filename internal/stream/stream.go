package stream

// Stream is the write side of one assistant turn. It is append-only
// and single-owner: the reconciler creates one per turn, emits chunks,
// and closes it exactly once. Emitting to a closed stream is a silent
// no-op so that late events after detach never error.
type Stream struct {
	sink   Sink
	closed bool
}

func New(sink Sink) *Stream {
	return &Stream{sink: sink}
}

func (s *Stream) Emit(c Chunk) {
	if s == nil || s.closed || s.sink == nil {
		return
	}
	s.sink.Write(c)
}

func (s *Stream) Close() {
	if s == nil {
		return
	}
	s.closed = true
}

func (s *Stream) Closed() bool {
	return s == nil || s.closed
}
