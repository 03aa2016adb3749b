package obs

import (
	"sort"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// Label is a key/value pair attached to measurements.
type Label struct {
	Key   string
	Value string
}

// Meter is a very small interface for emitting counters/histograms.
// Implementations may no-op or bridge to a metrics system.
type Meter interface {
	Counter(name string, value float64, labels ...Label)
	Histogram(name string, value float64, labels ...Label)
}

// NopMeter is a Meter that discards all measurements.
type NopMeter struct{}

func (NopMeter) Counter(name string, value float64, labels ...Label)   {}
func (NopMeter) Histogram(name string, value float64, labels ...Label) {}

// Tally is an in-memory Meter safe for concurrent use. Counters are
// truncated to integers; a histogram keeps "<name>_count" and "<name>_sum".
type Tally struct {
	m *xsync.MapOf[string, *xsync.Counter]
}

func NewTally() *Tally {
	return &Tally{m: xsync.NewMapOf[string, *xsync.Counter]()}
}

func (t *Tally) Counter(name string, value float64, labels ...Label) {
	t.counter(seriesKey(name, labels)).Add(int64(value))
}

func (t *Tally) Histogram(name string, value float64, labels ...Label) {
	key := seriesKey(name, labels)
	t.counter(key + "_count").Inc()
	t.counter(key + "_sum").Add(int64(value))
}

// Value returns the current value of a series, 0 if never recorded.
func (t *Tally) Value(name string, labels ...Label) int64 {
	c, ok := t.m.Load(seriesKey(name, labels))
	if !ok {
		return 0
	}
	return c.Value()
}

// Snapshot copies every series into a plain map.
func (t *Tally) Snapshot() map[string]int64 {
	out := make(map[string]int64, t.m.Size())
	t.m.Range(func(k string, c *xsync.Counter) bool {
		out[k] = c.Value()
		return true
	})
	return out
}

func (t *Tally) counter(key string) *xsync.Counter {
	c, _ := t.m.LoadOrCompute(key, func() *xsync.Counter { return xsync.NewCounter() })
	return c
}

func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	ls := append([]Label(nil), labels...)
	sort.Slice(ls, func(i, j int) bool { return ls[i].Key < ls[j].Key })
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range ls {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Key)
		b.WriteByte('=')
		b.WriteString(l.Value)
	}
	b.WriteByte('}')
	return b.String()
}
