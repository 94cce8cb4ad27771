package transcript

import (
	"errors"
	"strings"
	"sync"

	"github.com/harunnryd/sentiscribe/pkg/errorsx"
)

// Owner identifies which producer currently writes the shared buffer.
type Owner int

const (
	OwnerNone Owner = iota
	OwnerLive
	OwnerUpload
)

func (o Owner) String() string {
	switch o {
	case OwnerLive:
		return "live"
	case OwnerUpload:
		return "upload"
	default:
		return "none"
	}
}

// ErrBufferBusy is returned when another producer already owns the buffer.
var ErrBufferBusy = errors.New("transcript buffer is owned by another producer")

// Buffer is the single text area shared by live recognition and uploaded media.
// At most one producer kind owns it at a time; readers are unrestricted.
type Buffer struct {
	mu    sync.RWMutex
	owner Owner
	text  strings.Builder
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Acquire claims the buffer for owner. Re-acquiring by the current owner is a no-op.
func (b *Buffer) Acquire(owner Owner) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != OwnerNone && b.owner != owner {
		return errorsx.Wrap(ErrBufferBusy, errorsx.ReasonBufferBusy)
	}
	b.owner = owner
	return nil
}

// Release gives up ownership if owner holds it.
func (b *Buffer) Release(owner Owner) {
	b.mu.Lock()
	if b.owner == owner {
		b.owner = OwnerNone
	}
	b.mu.Unlock()
}

// Owner returns the current owner.
func (b *Buffer) Owner() Owner {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.owner
}

// Append adds text for owner. Writes from a non-owner are refused.
func (b *Buffer) Append(owner Owner, s string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != owner {
		return errorsx.Wrap(ErrBufferBusy, errorsx.ReasonBufferBusy)
	}
	b.text.WriteString(s)
	return nil
}

// Set replaces the content for owner.
func (b *Buffer) Set(owner Owner, s string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.owner != owner {
		return errorsx.Wrap(ErrBufferBusy, errorsx.ReasonBufferBusy)
	}
	b.text.Reset()
	b.text.WriteString(s)
	return nil
}

// Reset clears the content regardless of owner.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.text.Reset()
	b.mu.Unlock()
}

func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text.String()
}
