package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Connectivity reports whether the realtime channel is up. The poller
// backs off to its slow path only when pushes are flowing.
type Connectivity interface {
	IsConnected() bool
}

// Poller periodically re-fetches the active room as a fallback for
// missed pushes. It runs regardless of connection state; when the
// realtime channel is down it is the only source of new messages.
type Poller struct {
	rec      *Reconciler
	conn     Connectivity
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewPoller creates a poller with the configured reconciliation interval.
func NewPoller(rec *Reconciler, conn Connectivity, logger *zap.Logger, interval time.Duration) *Poller {
	return &Poller{
		rec:      rec,
		conn:     conn,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the periodic reconciliation loop. A non-positive interval
// disables polling entirely.
func (p *Poller) Start(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Info("polling fallback disabled")
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)
}

// Stop stops the loop.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	roomID := p.rec.ActiveRoom()
	if roomID == "" {
		return
	}
	if err := p.rec.Refresh(ctx, roomID); err != nil {
		p.logger.Warn("poll refresh failed", zap.Error(err), zap.String("room", roomID), zap.Bool("connected", p.conn.IsConnected()))
	}
}
