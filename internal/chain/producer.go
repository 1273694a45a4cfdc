package chain

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"croncat/internal/store"
)

// BlockSink persists block headers as they are produced.
type BlockSink interface {
	InsertBlock(ctx context.Context, block *store.BlockRecord) error
}

// BlockProducer is the daemon's only clock: on every tick it closes the
// current block and opens the next one.
type BlockProducer struct {
	app       *App
	sink      BlockSink
	logger    *slog.Logger
	blockTime time.Duration

	cron    *cron.Cron
	entryMu sync.Mutex
	entry   cron.EntryID
	txs     atomic.Int64

	ctx context.Context
}

// NewBlockProducer produces one block per blockTime. sink may be nil.
func NewBlockProducer(app *App, sink BlockSink, logger *slog.Logger, blockTime time.Duration) *BlockProducer {
	if blockTime < time.Second {
		blockTime = time.Second
	}
	p := &BlockProducer{
		app:       app,
		sink:      sink,
		logger:    logger,
		blockTime: blockTime,
		cron:      cron.New(cron.WithLocation(time.UTC)),
	}
	app.OnTx(func(TxResult) { p.txs.Add(1) })
	return p
}

// Start begins producing blocks. ctx is used for the block writes.
func (p *BlockProducer) Start(ctx context.Context) {
	p.ctx = ctx
	p.entryMu.Lock()
	p.entry = p.cron.Schedule(cron.Every(p.blockTime), cron.FuncJob(p.produce))
	p.entryMu.Unlock()
	p.cron.Start()
	p.logger.Info("block producer started", "block_time", p.blockTime, "height", p.app.Block().Height)
}

// Stop halts production; the returned context is done once a running tick finishes.
func (p *BlockProducer) Stop() context.Context {
	return p.cron.Stop()
}

// NextBlockAt reports when the next block will be produced.
func (p *BlockProducer) NextBlockAt() time.Time {
	p.entryMu.Lock()
	defer p.entryMu.Unlock()
	return p.cron.Entry(p.entry).Next
}

func (p *BlockProducer) produce() {
	ctx := p.ctxOrBackground()
	if ctx.Err() != nil {
		return
	}
	closed := p.app.Block()
	txCount := p.txs.Swap(0)
	if p.sink != nil {
		rec := &store.BlockRecord{Height: closed.Height, TimeNanos: closed.Time, TxCount: int(txCount)}
		if err := p.sink.InsertBlock(ctx, rec); err != nil {
			p.logger.Error("record block", "height", closed.Height, "err", err)
		}
	}
	next, err := p.app.AdvanceBlocks(ctx, 1, p.blockTime)
	if err != nil {
		p.logger.Error("advance block", "height", closed.Height, "err", err)
		return
	}
	p.logger.Debug("block produced", "height", next.Height, "txs", txCount)
}

func (p *BlockProducer) ctxOrBackground() context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}
