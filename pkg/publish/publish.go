// Package publish delivers (frame, calibration) pairs from a capture session
// to in-process consumers. Delivery is fire-and-forget: a subscriber whose
// buffer is full misses the pair instead of slowing the capture loop down.
package publish

import (
	"errors"
	"sync"
	"sync/atomic"

	"cv-capture/pkg/calib"
	"cv-capture/pkg/frame"
)

var (
	ErrTopicExists        = errors.New("topic already advertised")
	ErrTopicNotFound      = errors.New("topic not advertised")
	ErrSubscriberExists   = errors.New("subscriber id already exists")
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	ErrBusClosed          = errors.New("bus is closed")
)

// Pair is one published unit. Frame is owned by the pair and must be
// treated as read-only by every subscriber.
type Pair struct {
	Frame *frame.Frame
	Info  calib.Record
}

// Channel is the sending side of an advertised topic.
type Channel interface {
	Publish(f *frame.Frame, info calib.Record)
}

// Advertiser creates channels.
type Advertiser interface {
	Advertise(topic string, depth int) (Channel, error)
}

type Stats struct {
	Published uint64 `json:"published"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
}

type subscriber struct {
	ch      chan Pair
	sent    atomic.Uint64
	dropped atomic.Uint64
}

type topic struct {
	name  string
	depth int

	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	published atomic.Uint64
}

// Bus is an in-process Advertiser.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

func (b *Bus) Advertise(name string, depth int) (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.topics[name]; ok {
		return nil, ErrTopicExists
	}
	if depth < 1 {
		depth = 1
	}
	t := &topic{name: name, depth: depth, subs: make(map[string]*subscriber)}
	b.topics[name] = t
	return t, nil
}

// Subscribe returns a channel receiving the pairs published on topic. Its
// buffer is the depth the topic was advertised with.
func (b *Bus) Subscribe(name, id string) (<-chan Pair, error) {
	t, err := b.topic(name)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrBusClosed
	}
	if _, ok := t.subs[id]; ok {
		return nil, ErrSubscriberExists
	}
	s := &subscriber{ch: make(chan Pair, t.depth)}
	t.subs[id] = s
	return s.ch, nil
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(name, id string) error {
	t, err := b.topic(name)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.subs[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	delete(t.subs, id)
	close(s.ch)
	return nil
}

func (b *Bus) Stats(name string) (Stats, error) {
	t, err := b.topic(name)
	if err != nil {
		return Stats{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	st := Stats{Published: t.published.Load()}
	for _, s := range t.subs {
		st.Sent += s.sent.Load()
		st.Dropped += s.dropped.Load()
	}
	return st, nil
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, t := range b.topics {
		t.mu.Lock()
		t.closed = true
		for id, s := range t.subs {
			close(s.ch)
			delete(t.subs, id)
		}
		t.mu.Unlock()
	}
	return nil
}

func (b *Bus) topic(name string) (*topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	t, ok := b.topics[name]
	if !ok {
		return nil, ErrTopicNotFound
	}
	return t, nil
}

// Publish copies the frame and record once and hands the same pair to every
// subscriber, so the caller may reuse its buffers right away.
func (t *topic) Publish(f *frame.Frame, info calib.Record) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	t.published.Add(1)
	if len(t.subs) == 0 {
		return
	}
	p := Pair{Frame: f.Clone(), Info: info.Clone()}
	for _, s := range t.subs {
		select {
		case s.ch <- p:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}
