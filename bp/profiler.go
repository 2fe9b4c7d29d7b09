package bp

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/arloliu/bpio/collective"
	"github.com/arloliu/bpio/errs"
)

// Units is the time unit of profiling reports.
type Units uint8

const (
	Microseconds Units = iota // Microseconds reports timers in µs ("mus" suffix).
	Milliseconds              // Milliseconds reports timers in ms.
	Seconds                   // Seconds reports timers in s.
)

// ParseUnits maps the ProfileUnits engine parameter to Units.
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(s) {
	case "microseconds", "mus":
		return Microseconds, nil
	case "milliseconds", "ms":
		return Milliseconds, nil
	case "seconds", "s":
		return Seconds, nil
	default:
		return 0, fmt.Errorf("%w: ProfileUnits %q", errs.ErrInvalidParameter, s)
	}
}

func (u Units) suffix() string {
	switch u {
	case Milliseconds:
		return "ms"
	case Seconds:
		return "s"
	default:
		return "mus"
	}
}

func (u Units) convert(d time.Duration) float64 {
	switch u {
	case Milliseconds:
		return float64(d) / float64(time.Millisecond)
	case Seconds:
		return d.Seconds()
	default:
		return float64(d) / float64(time.Microsecond)
	}
}

type timer struct {
	elapsed time.Duration
	started time.Time
	running bool
	calls   int
}

// Profiler accumulates per-rank timers and byte counters. Every method is
// safe on a nil *Profiler, which records nothing.
type Profiler struct {
	mu         sync.Mutex
	session    uuid.UUID
	rank       int
	threads    int
	units      Units
	start      time.Time
	timers     map[string]*timer
	bytes      map[string]uint64
	transports map[int]string
}

// NewProfiler creates a profiler for one rank of a writer session.
func NewProfiler(session uuid.UUID, rank, threads int, units Units) *Profiler {
	return &Profiler{
		session:    session,
		rank:       rank,
		threads:    threads,
		units:      units,
		start:      time.Now(),
		timers:     make(map[string]*timer),
		bytes:      make(map[string]uint64),
		transports: make(map[int]string),
	}
}

// Start starts the named timer. Starting a running timer is a no-op.
func (p *Profiler) Start(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.timers[name]
	if !ok {
		t = &timer{}
		p.timers[name] = t
	}
	if !t.running {
		t.started = time.Now()
		t.running = true
	}
}

// Stop stops the named timer and adds the elapsed time.
func (p *Profiler) Stop(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[name]; ok && t.running {
		t.elapsed += time.Since(t.started)
		t.running = false
		t.calls++
	}
}

// AddBytes adds n to the named byte counter.
func (p *Profiler) AddBytes(name string, n uint64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.bytes[name] += n
	p.mu.Unlock()
}

// SetTransport records the kind of transport i ("File", "Memory", "S3").
func (p *Profiler) SetTransport(i int, kind string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.transports[i] = kind
	p.mu.Unlock()
}

// Elapsed returns the accumulated time of the named timer.
func (p *Profiler) Elapsed(name string) time.Duration {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.timers[name]; ok {
		return t.elapsed
	}

	return 0
}

// Bytes returns the named byte counter.
func (p *Profiler) Bytes(name string) uint64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.bytes[name]
}

// TransportTimer returns the timer name of transport i.
func TransportTimer(i int) string {
	return fmt.Sprintf("transport_%d", i)
}

// GetRankProfilingJSON encodes the rank's report as one JSON object.
func (p *Profiler) GetRankProfilingJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	suffix := p.units.suffix()
	report := map[string]any{
		"session": p.session.String(),
		"rank":    p.rank,
		"start":   p.start.Format(time.RFC3339Nano),
		"threads": p.threads,
		"bytes":   maps.Clone(p.bytes),
	}
	for name, t := range p.timers {
		if strings.HasPrefix(name, "transport_") {
			continue
		}
		report[name+"_"+suffix] = p.units.convert(t.elapsed)
	}
	for _, i := range slices.Sorted(maps.Keys(p.transports)) {
		name := TransportTimer(i)
		entry := map[string]any{"type": p.transports[i]}
		if t, ok := p.timers[name]; ok {
			entry["write_"+suffix] = p.units.convert(t.elapsed)
		}
		if n, ok := p.bytes[name]; ok {
			entry["wbytes"] = n
		}
		report[name] = entry
	}

	return json.Marshal(report)
}

// AggregateProfilingJSON gathers the report of every rank of ch at rank 0.
//
// Returns:
//   - []byte: on rank 0 a JSON array of the rank reports in rank order, nil
//     on the other ranks
//   - error: encoding or collective failures
func AggregateProfilingJSON(ctx context.Context, ch collective.Channel, p *Profiler) ([]byte, error) {
	local, err := p.GetRankProfilingJSON()
	if err != nil {
		return nil, err
	}

	all, sizes, err := ch.GatherV(ctx, 0, local)
	if err != nil {
		return nil, err
	}
	if ch.Rank() != 0 {
		return nil, nil
	}

	var out bytes.Buffer
	out.Grow(len(all) + len(sizes) + 2)
	out.WriteByte('[')
	off := 0
	for i, n := range sizes {
		if i > 0 {
			out.WriteString(",\n")
		}
		out.Write(all[off : off+n])
		off += n
	}
	out.WriteString("]\n")

	return out.Bytes(), nil
}
