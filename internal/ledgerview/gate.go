// internal/ledgerview/gate.go
package ledgerview

// Gate admits one balance-affecting operation at a time. Callers that find
// it taken are turned away rather than queued.
type Gate struct {
	slot chan struct{}
}

func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// TryAcquire takes the gate if it is free.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the gate. Releasing a free gate is a no-op.
func (g *Gate) Release() {
	select {
	case <-g.slot:
	default:
	}
}

// Busy reports whether an operation holds the gate.
func (g *Gate) Busy() bool {
	return len(g.slot) > 0
}
