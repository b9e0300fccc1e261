//go:build !giouring

package ioengine

// NewRing builds the default Ring backend (backend_portable.go).
// Build with -tags giouring to use backend_giouring.go instead.
func NewRing(entries uint32) (Ring, error) {
	return NewPortableRing(entries)
}
