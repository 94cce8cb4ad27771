package transcript

import (
	"errors"
	"testing"

	"github.com/harunnryd/sentiscribe/pkg/errorsx"
)

func TestBufferOwnershipIsExclusive(t *testing.T) {
	b := NewBuffer()
	if err := b.Acquire(OwnerLive); err != nil {
		t.Fatalf("acquire live: %v", err)
	}
	if err := b.Acquire(OwnerLive); err != nil {
		t.Fatalf("re-acquire by owner should succeed: %v", err)
	}
	err := b.Acquire(OwnerUpload)
	if !errors.Is(err, ErrBufferBusy) {
		t.Fatalf("expected ErrBufferBusy, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonBufferBusy) {
		t.Fatalf("expected buffer_busy reason")
	}

	b.Release(OwnerUpload)
	if b.Owner() != OwnerLive {
		t.Fatalf("release by non-owner must not change ownership")
	}
	b.Release(OwnerLive)
	if err := b.Acquire(OwnerUpload); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestBufferWritesRequireOwnership(t *testing.T) {
	b := NewBuffer()
	if err := b.Append(OwnerLive, "x"); err == nil {
		t.Fatalf("expected append without ownership to fail")
	}
	_ = b.Acquire(OwnerLive)
	_ = b.Append(OwnerLive, "你好")
	_ = b.Append(OwnerLive, "世界")
	if got := b.String(); got != "你好世界" {
		t.Fatalf("unexpected text %q", got)
	}
	_ = b.Set(OwnerLive, "reset")
	if got := b.String(); got != "reset" {
		t.Fatalf("unexpected text after set %q", got)
	}
}

func TestNewIndexesSegments(t *testing.T) {
	tr := New("A。B", []string{" A ", "B"})
	if !tr.HasSegments() || len(tr.Segments) != 2 {
		t.Fatalf("expected two segments")
	}
	if tr.Segments[1].Index != 1 || tr.Segments[0].Text != "A" {
		t.Fatalf("unexpected segments %+v", tr.Segments)
	}
	if New("x", nil).HasSegments() {
		t.Fatalf("expected no segments")
	}
}

func TestNewDropsBlankSegments(t *testing.T) {
	tr := New("A。B", []string{"A", "  ", "", "B"})
	if len(tr.Segments) != 2 {
		t.Fatalf("expected blanks dropped, got %+v", tr.Segments)
	}
	if tr.Segments[1].Index != 1 || tr.Segments[1].Text != "B" {
		t.Fatalf("expected contiguous indices, got %+v", tr.Segments)
	}
	if New("x", []string{" ", "\t"}).HasSegments() {
		t.Fatalf("all-blank segmentation must count as none")
	}
}
