// internal/chaos/faults.go
package chaos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrInjected is the transport error returned for network faults.
var ErrInjected = errors.New("chaos: injected network failure")

// Fault describes a failure applied to matching outbound requests.
type Fault struct {
	Name string
	// Method and PathContains select requests; empty matches everything.
	Method       string
	PathContains string
	// Latency is added before the request is forwarded.
	Latency time.Duration
	// FailureRate is the probability in [0,1] that a matching request fails.
	FailureRate float64
	// StatusCode is the synthesized response status; 0 fails the transport.
	StatusCode int
	// DropResponse forwards the request and then loses the response, so the
	// server applies the change while the caller sees a failure.
	DropResponse bool
	// Remaining limits how many requests fail; 0 means no limit.
	Remaining int
}

func (f *Fault) matches(r *http.Request) bool {
	if f.Method != "" && !strings.EqualFold(f.Method, r.Method) {
		return false
	}
	return f.PathContains == "" || strings.Contains(r.URL.Path, f.PathContains)
}

// Injector is an http.RoundTripper that applies registered faults before
// delegating to the wrapped transport.
type Injector struct {
	next http.RoundTripper

	mu       sync.Mutex
	faults   []*Fault
	rng      *rand.Rand
	injected map[string]int
}

// NewInjector wraps next; nil means http.DefaultTransport. The seed makes
// probabilistic faults reproducible.
func NewInjector(next http.RoundTripper, seed uint64) *Injector {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Injector{
		next:     next,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		injected: make(map[string]int),
	}
}

// Add registers a fault. Faults are checked in registration order and the
// first match applies.
func (i *Injector) Add(f Fault) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.faults = append(i.faults, &f)
}

// Clear removes every fault.
func (i *Injector) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.faults = nil
}

// Injected returns how many failures the named fault produced.
func (i *Injector) Injected(name string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.injected[name]
}

type decision struct {
	latency time.Duration
	fail    bool
	status  int
	drop    bool
}

func (i *Injector) decide(r *http.Request) decision {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, f := range i.faults {
		if !f.matches(r) {
			continue
		}
		d := decision{latency: f.Latency}
		exhausted := f.Remaining < 0
		if !exhausted && f.FailureRate > 0 && i.rng.Float64() < f.FailureRate {
			d.fail, d.status, d.drop = true, f.StatusCode, f.DropResponse
			i.injected[f.Name]++
			if f.Remaining > 0 {
				f.Remaining--
				if f.Remaining == 0 {
					f.Remaining = -1
				}
			}
		}
		return d
	}
	return decision{}
}

func (i *Injector) RoundTrip(r *http.Request) (*http.Response, error) {
	d := i.decide(r)

	if d.latency > 0 {
		if err := sleep(r.Context(), d.latency); err != nil {
			return nil, err
		}
	}
	if !d.fail {
		return i.next.RoundTrip(r)
	}

	if d.drop {
		resp, err := i.next.RoundTrip(r)
		if err != nil {
			return nil, err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: response to %s %s lost", ErrInjected, r.Method, r.URL.Path)
	}
	if d.status == 0 {
		if r.Body != nil {
			r.Body.Close()
		}
		return nil, fmt.Errorf("%w: %s %s", ErrInjected, r.Method, r.URL.Path)
	}

	if r.Body != nil {
		r.Body.Close()
	}
	body := fmt.Sprintf(`{"message":"injected fault: %s"}`, http.StatusText(d.status))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", d.status, http.StatusText(d.status)),
		StatusCode:    d.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewBufferString(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
