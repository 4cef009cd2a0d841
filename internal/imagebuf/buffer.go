// Package imagebuf provides the fixed-capacity slot buffer that holds the
// images selected for a generation job.
package imagebuf

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultCapacity is the number of slots offered by the upload form.
	DefaultCapacity = 6
	// DefaultMaxImageBytes is the per-image size ceiling (2 MiB).
	DefaultMaxImageBytes = 2 * 1024 * 1024
)

// Static errors for slot operations.
var (
	// ErrInvalidSlot is returned when a slot index is outside [0, capacity).
	ErrInvalidSlot = errors.New("imagebuf: invalid slot index")
	// ErrInvalidImageType is returned when the payload is not image content.
	ErrInvalidImageType = errors.New("imagebuf: payload is not an image")
	// ErrImageTooLarge is returned when the payload exceeds the size ceiling.
	ErrImageTooLarge = errors.New("imagebuf: image exceeds size limit")
)

// Slot is one fixed position in the buffer.
type Slot struct {
	// Index is the position of the slot; it never changes.
	Index int
	// Data is the raw image payload, nil when the slot is empty.
	Data []byte
	// MIME is the sniffed content type of Data.
	MIME string
}

// Occupied reports whether the slot holds an image.
func (s Slot) Occupied() bool {
	return len(s.Data) > 0
}

// Image is an occupied slot's payload as handed to submission.
type Image struct {
	Index int
	Data  []byte
	MIME  string
}

// Extension returns the file extension for the image's content type,
// including the leading dot. It falls back to ".jpg".
func (i Image) Extension() string {
	if m := mimetype.Lookup(i.MIME); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".jpg"
}

// Buffer is an ordered, fixed-capacity array of image slots.
// It is not safe for concurrent mutation; it has a single owner.
type Buffer struct {
	slots    []Slot
	maxBytes int
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxImageBytes sets the per-image size ceiling.
func WithMaxImageBytes(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.maxBytes = n
		}
	}
}

// New creates a buffer with the given number of slots.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		slots:    make([]Slot, capacity),
		maxBytes: DefaultMaxImageBytes,
	}
	for i := range b.slots {
		b.slots[i].Index = i
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Capacity returns the fixed number of slots.
func (b *Buffer) Capacity() int {
	return len(b.slots)
}

// Set stores data in the slot at index, replacing any previous payload.
// The payload is copied.
func (b *Buffer) Set(index int, data []byte) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidImageType)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("%w: detected %s", ErrInvalidImageType, mt.String())
	}
	if len(data) > b.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrImageTooLarge, len(data), b.maxBytes)
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	b.slots[index] = Slot{Index: index, Data: payload, MIME: mt.String()}
	return nil
}

// SetDataURL decodes a "data:image/...;base64," URL, or bare base64, and
// stores the result with Set.
func (b *Buffer) SetDataURL(index int, s string) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	if _, after, ok := strings.Cut(s, ","); ok {
		s = after
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%w: decode base64: %v", ErrInvalidImageType, err)
	}
	return b.Set(index, data)
}

// SetFile reads the file at path and stores it with Set.
func (b *Buffer) SetFile(index int, path string) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("imagebuf: stat %s: %w", path, err)
	}
	// Reject before reading the whole file into memory.
	if info.Size() > int64(b.maxBytes) {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrImageTooLarge, path, info.Size(), b.maxBytes)
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is chosen by the user
	if err != nil {
		return fmt.Errorf("imagebuf: read %s: %w", path, err)
	}
	return b.Set(index, data)
}

// Clear empties the slot at index. Clearing an empty slot is a no-op.
func (b *Buffer) Clear(index int) error {
	if err := b.checkIndex(index); err != nil {
		return err
	}
	b.slots[index] = Slot{Index: index}
	return nil
}

// Slot returns a copy of the slot at index.
func (b *Buffer) Slot(index int) (Slot, error) {
	if err := b.checkIndex(index); err != nil {
		return Slot{}, err
	}
	s := b.slots[index]
	s.Data = clone(s.Data)
	return s, nil
}

// Images returns the occupied slots' payloads in increasing index order.
func (b *Buffer) Images() []Image {
	images := make([]Image, 0, len(b.slots))
	for _, s := range b.slots {
		if !s.Occupied() {
			continue
		}
		images = append(images, Image{Index: s.Index, Data: clone(s.Data), MIME: s.MIME})
	}
	return images
}

// Count returns the number of occupied slots.
func (b *Buffer) Count() int {
	n := 0
	for _, s := range b.slots {
		if s.Occupied() {
			n++
		}
	}
	return n
}

func (b *Buffer) checkIndex(index int) error {
	if index < 0 || index >= len(b.slots) {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidSlot, index, len(b.slots))
	}
	return nil
}

func clone(p []byte) []byte {
	if p == nil {
		return nil
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out
}
