package agent

import (
	"io"
	"strings"
	"sync"
)

// StreamConsumer receives response text fragments as they arrive. It is
// called from the goroutine running the conversation, in arrival order.
type StreamConsumer interface {
	OnFragment(fragment string)
}

// ConsumerFunc adapts a function to StreamConsumer
type ConsumerFunc func(fragment string)

// OnFragment implements StreamConsumer
func (f ConsumerFunc) OnFragment(fragment string) {
	f(fragment)
}

// Discard drops every fragment
var Discard StreamConsumer = ConsumerFunc(func(string) {})

type flusher interface {
	Flush() error
}

type writerConsumer struct {
	w io.Writer
}

// NewWriterConsumer writes every fragment to w as soon as it arrives. Writers
// with a Flush method, such as a bufio.Writer, are flushed after each write.
func NewWriterConsumer(w io.Writer) StreamConsumer {
	return writerConsumer{w: w}
}

func (c writerConsumer) OnFragment(fragment string) {
	if _, err := io.WriteString(c.w, fragment); err != nil {
		return
	}
	if f, ok := c.w.(flusher); ok {
		_ = f.Flush()
	}
}

// BufferConsumer captures fragments in memory
type BufferConsumer struct {
	mu        sync.Mutex
	fragments []string
}

// OnFragment implements StreamConsumer
func (b *BufferConsumer) OnFragment(fragment string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = append(b.fragments, fragment)
}

// String returns the captured text
func (b *BufferConsumer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.fragments, "")
}

// Fragments returns the captured fragments in arrival order
func (b *BufferConsumer) Fragments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.fragments...)
}

// Reset drops the captured fragments
func (b *BufferConsumer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = nil
}

type multiConsumer []StreamConsumer

func (m multiConsumer) OnFragment(fragment string) {
	for _, c := range m {
		c.OnFragment(fragment)
	}
}

// MultiConsumer forwards every fragment to each consumer, in order
func MultiConsumer(consumers ...StreamConsumer) StreamConsumer {
	all := make(multiConsumer, 0, len(consumers))
	for _, c := range consumers {
		if c != nil {
			all = append(all, c)
		}
	}
	return all
}
