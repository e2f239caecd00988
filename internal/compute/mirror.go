package compute

import "unsafe"

// Mirror is a host buffer with a device-side copy. The two sides are only
// coherent after an explicit H2D or D2H; kernels read and write Device().
type Mirror[T any] struct {
	name string
	acct *Accountant
	Host []T
	dev  []T
}

func NewMirror[T any](acct *Accountant, name string, n int) (*Mirror[T], error) {
	m := &Mirror[T]{name: name, acct: acct}
	if err := m.Resize(n); err != nil {
		return nil, err
	}
	return m, nil
}

// Resize sets both sides to length n. Capacity grows geometrically and
// only the device side is charged to the accountant.
func (m *Mirror[T]) Resize(n int) error {
	if n <= cap(m.dev) && n <= cap(m.Host) {
		m.Host = m.Host[:n]
		m.dev = m.dev[:n]
		return nil
	}
	newCap := cap(m.dev) * 2
	if newCap < n {
		newCap = n
	}
	var zero T
	if m.acct != nil {
		if err := m.acct.Alloc(m.name, int64(newCap)*int64(unsafe.Sizeof(zero))); err != nil {
			return err
		}
	}
	host := make([]T, n, newCap)
	copy(host, m.Host)
	dev := make([]T, n, newCap)
	copy(dev, m.dev)
	m.Host, m.dev = host, dev
	return nil
}

func (m *Mirror[T]) Len() int { return len(m.Host) }

func (m *Mirror[T]) Device() []T { return m.dev }

// H2D copies the host side to the device side.
func (m *Mirror[T]) H2D() { copy(m.dev, m.Host) }

// D2H copies the device side to the host side.
func (m *Mirror[T]) D2H() { copy(m.Host, m.dev) }

// Release drops both sides and returns the memory to the accountant.
func (m *Mirror[T]) Release() {
	m.Host, m.dev = nil, nil
	if m.acct != nil {
		m.acct.Free(m.name)
	}
}
