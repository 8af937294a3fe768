package balance

import "github.com/rawblock/veil-light-engine/pkg/models"

// Sink receives batches of unspent outputs as scan pages complete. The
// scan is single-threaded and waits for Push to return before fetching the
// next page, so backpressure is inherent: a slow consumer slows the scan
// instead of overflowing it.
type Sink interface {
	Push(batch []*models.UTXO)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func([]*models.UTXO)

func (f SinkFunc) Push(batch []*models.UTXO) { f(batch) }

// CollectSink accumulates every pushed batch, for callers that want the
// stream and the final slice without wiring channels.
type CollectSink struct {
	UTXOs []*models.UTXO
}

func (c *CollectSink) Push(batch []*models.UTXO) {
	c.UTXOs = append(c.UTXOs, batch...)
}

// notify fans one page out to whichever consumers the options configured.
func (o *Options) notify(batch []*models.UTXO) {
	if len(batch) == 0 {
		return
	}
	if o.OnUtxoDiscovered != nil {
		o.OnUtxoDiscovered(batch)
	}
	if o.Sink != nil {
		o.Sink.Push(batch)
	}
}
