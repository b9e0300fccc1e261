//go:build giouring

package ioengine

// NewRing builds the giouring-backed Ring (backend_giouring.go).
func NewRing(entries uint32) (Ring, error) {
	return NewGiouringRing(entries)
}
