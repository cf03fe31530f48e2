package messaging

import (
	"context"
	"errors"
	"sync"
	"time"
)

var errBroker = errors.New("broker unavailable")

type fakeWriter struct {
	mu      sync.Mutex
	written []*Message
	err     error
	closed  bool
}

func (w *fakeWriter) Write(_ context.Context, msgs []*Message) ([]DeliveryReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	reports := make([]DeliveryReport, 0, len(msgs))
	for _, m := range msgs {
		w.written = append(w.written, m)
		reports = append(reports, DeliveryReport{Topic: m.Topic, Offset: int64(len(w.written) - 1)})
	}
	return reports, nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) messages() []*Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Message(nil), w.written...)
}

type fakeReader struct {
	mu             sync.Mutex
	subscribeCalls [][]string
	subscribeGate  chan struct{}
	subscribeErr   error

	msgs      chan *Message
	committed []int64
	commitErr error
	closed    bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{msgs: make(chan *Message, 64)}
}

func (r *fakeReader) Subscribe(topics []string) error {
	if r.subscribeGate != nil {
		<-r.subscribeGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscribeErr != nil {
		return r.subscribeErr
	}
	r.subscribeCalls = append(r.subscribeCalls, append([]string(nil), topics...))
	return nil
}

func (r *fakeReader) Read(ctx context.Context, timeout time.Duration) (*Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-time.After(timeout):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *fakeReader) Commit(msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.committed = append(r.committed, msg.Offset)
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.subscribeCalls...)
}

type recordedSleeps struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *recordedSleeps) sleep(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
}

func (s *recordedSleeps) all() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}
