package tree

import (
	"fmt"

	"github.com/fruitsalade/navigator/pkg/protocol"
)

// Counter holds validation marker totals. It is a value type: every
// operation returns a new Counter.
type Counter struct {
	Errors   int
	Warnings int
	Infos    int
}

// CounterFrom converts the wire representation.
func CounterFrom(c protocol.Counter) Counter {
	return Counter{Errors: c.Errors, Warnings: c.Warnings, Infos: c.Infos}
}

// Add returns c + o.
func (c Counter) Add(o Counter) Counter {
	return Counter{
		Errors:   c.Errors + o.Errors,
		Warnings: c.Warnings + o.Warnings,
		Infos:    c.Infos + o.Infos,
	}
}

// Sub returns c - o.
func (c Counter) Sub(o Counter) Counter {
	return c.Add(o.Negate())
}

// Negate returns -c.
func (c Counter) Negate() Counter {
	return Counter{Errors: -c.Errors, Warnings: -c.Warnings, Infos: -c.Infos}
}

// IsZero reports whether all three totals are zero.
func (c Counter) IsZero() bool {
	return c == Counter{}
}

func (c Counter) String() string {
	return fmt.Sprintf("{errors:%d warnings:%d infos:%d}", c.Errors, c.Warnings, c.Infos)
}
