package video

import (
	"fmt"
	"sync"
)

// Stage is one node of the frame pipeline. Trigger performs at most one unit
// of work and reports whether it did. It must never block waiting for input
// or output space; a false return means "not ready, try again later".
type Stage interface {
	Name() string
	Trigger() bool
	// Output is nil for stages that only consume.
	Output() *FrameBuffer
	// Format describes image i of every output slot.
	Format(i int) Format
	ImagesPerSlot() int
}

// TransformFunc fills out from the reserved upstream slots. out is nil for
// drains and in is empty for producers.
type TransformFunc func(in []*Slot, out *Slot)

type ProcessorOptions struct {
	Name     string
	Upstream []Stage
	// Formats of the images in each output slot. Empty for drains.
	Formats []Format
	// BufferSlots defaults to DefaultBufferSlots.
	BufferSlots int
}

// Processor implements the reserve/transform/release cycle shared by every
// stage. Producers have no upstream, drains have no formats.
type Processor struct {
	name      string
	upstream  []Stage
	readers   []*Reader
	out       *FrameBuffer
	formats   []Format
	transform TransformFunc
	probe     *StatsProbe

	mu sync.Mutex
	in []*Slot
}

func NewProcessor(o ProcessorOptions, transform TransformFunc) (*Processor, error) {
	if o.Name == "" {
		return nil, fmt.Errorf("processor needs a name")
	}
	if transform == nil {
		return nil, fmt.Errorf("processor %q needs a transform", o.Name)
	}
	p := &Processor{
		name:      o.Name,
		upstream:  append([]Stage(nil), o.Upstream...),
		formats:   append([]Format(nil), o.Formats...),
		transform: transform,
		probe:     NewStatsProbe(o.Name),
		in:        make([]*Slot, len(o.Upstream)),
	}
	if len(p.formats) > 0 {
		n := o.BufferSlots
		if n == 0 {
			n = DefaultBufferSlots
		}
		b, err := NewFrameBuffer(n, p.formats...)
		if err != nil {
			return nil, fmt.Errorf("processor %q: %w", o.Name, err)
		}
		p.out = b
	}
	for _, u := range p.upstream {
		ub := u.Output()
		if ub == nil {
			return nil, fmt.Errorf("processor %q: upstream %q has no output", o.Name, u.Name())
		}
		p.readers = append(p.readers, ub.NewReader())
	}
	return p, nil
}

func (p *Processor) Name() string {
	return p.name
}

func (p *Processor) Output() *FrameBuffer {
	return p.out
}

func (p *Processor) Format(i int) Format {
	return p.formats[i]
}

func (p *Processor) ImagesPerSlot() int {
	return len(p.formats)
}

func (p *Processor) Probe() *StatsProbe {
	return p.probe
}

// UpstreamFormat returns the format of image i produced by upstream input.
func (p *Processor) UpstreamFormat(input, i int) Format {
	return p.upstream[input].Format(i)
}

// Trigger processes one frame if every upstream has one ready and there is
// room downstream. Partial reservations are rolled back.
func (p *Processor) Trigger() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, r := range p.readers {
		s, ok := r.ReserveRead()
		if !ok {
			for j := 0; j < i; j++ {
				p.readers[j].Abort(p.in[j])
				p.in[j] = nil
			}
			return false
		}
		p.in[i] = s
	}

	var out *Slot
	if p.out != nil {
		s, ok := p.out.ReserveWrite()
		if !ok {
			for j, r := range p.readers {
				r.Abort(p.in[j])
				p.in[j] = nil
			}
			return false
		}
		out = s
		if len(p.in) > 0 {
			out.Time = p.in[0].Time
		}
	}

	p.probe.Measure(func() {
		p.transform(p.in, out)
	})

	for j, r := range p.readers {
		r.Release(p.in[j])
		p.in[j] = nil
	}
	if out != nil {
		p.out.Release(out)
	}
	return true
}

// Close detaches the processor from its upstream buffers.
func (p *Processor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.readers {
		r.Close()
	}
}
