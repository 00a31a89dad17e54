package output

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/garkling/PDFLinkCrawler/internal/dedup"
	"github.com/garkling/PDFLinkCrawler/pkg/types"
)

// Pipeline passes records through the dedup gate before handing them to the sink.
type Pipeline struct {
	gate   *dedup.Gate
	sink   Sink
	logger *slog.Logger

	warnAt   int
	warnOnce sync.Once

	emitted atomic.Int64
	dropped atomic.Int64
}

// NewPipeline wires a gate to a sink. warnAt > 0 logs a single warning once
// the gate holds that many links.
func NewPipeline(gate *dedup.Gate, sink Sink, warnAt int, logger *slog.Logger) *Pipeline {
	if gate == nil {
		gate = dedup.NewGate()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		gate:   gate,
		sink:   sink,
		logger: logger.With("component", "pipeline"),
		warnAt: warnAt,
	}
}

// Process emits rec unless the same link was already emitted. It reports
// whether the record reached the sink. A link whose emit fails is released
// from the gate.
func (p *Pipeline) Process(ctx context.Context, rec types.LinkRecord) (bool, error) {
	if !p.gate.Admit(rec.Link) {
		p.dropped.Add(1)
		p.logger.Debug("dropping duplicate link", "link", rec.Link)
		return false, nil
	}
	if p.warnAt > 0 {
		if n := p.gate.Len(); n >= p.warnAt {
			p.warnOnce.Do(func() {
				p.logger.Warn("seen link set is large and is never evicted", "links", n)
			})
		}
	}
	if err := p.sink.Emit(ctx, rec); err != nil {
		// The link was never written, so a later sighting may emit it.
		p.gate.Forget(rec.Link)
		return false, err
	}
	p.emitted.Add(1)
	return true, nil
}

// Emitted returns the number of records delivered to the sink.
func (p *Pipeline) Emitted() int64 { return p.emitted.Load() }

// Dropped returns the number of duplicate records suppressed.
func (p *Pipeline) Dropped() int64 { return p.dropped.Load() }

// Close closes the sink.
func (p *Pipeline) Close() error {
	return p.sink.Close()
}
