package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/nulzo/query-router/internal/store"
	"github.com/nulzo/query-router/internal/store/model"
	"go.uber.org/zap"
)

// Ingestor handles the asynchronous persistence of query logs.
type Ingestor interface {
	Log(log *model.QueryLog)
	Start(ctx context.Context)
	// Stop drains buffered logs and waits for the final flush.
	Stop()
}

type Option func(*ingestor)

func WithBatchSize(n int) Option {
	return func(i *ingestor) { i.batchSize = n }
}

func WithFlushInterval(d time.Duration) Option {
	return func(i *ingestor) { i.flushTime = d }
}

func WithBufferSize(n int) Option {
	return func(i *ingestor) { i.logChan = make(chan *model.QueryLog, n) }
}

type ingestor struct {
	logger    *zap.Logger
	repo      store.Repository
	logChan   chan *model.QueryLog
	batchSize int
	flushTime time.Duration

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}
}

func NewIngestor(logger *zap.Logger, repo store.Repository, opts ...Option) Ingestor {
	i := &ingestor{
		logger:    logger,
		repo:      repo,
		logChan:   make(chan *model.QueryLog, 10000),
		batchSize: 50,
		flushTime: 5 * time.Second,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *ingestor) Log(log *model.QueryLog) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return
	}

	select {
	case i.logChan <- log:
	default:
		i.logger.Warn("Analytics buffer full, dropping log", zap.String("query_id", log.ID))
	}
}

func (i *ingestor) Start(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started || i.closed {
		return
	}
	i.started = true
	go i.worker(ctx)
}

func (i *ingestor) Stop() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	started := i.started
	close(i.logChan)
	i.mu.Unlock()

	if started {
		<-i.done
	}
}

func (i *ingestor) worker(ctx context.Context) {
	defer close(i.done)

	batch := make([]*model.QueryLog, 0, i.batchSize)
	ticker := time.NewTicker(i.flushTime)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		// the request context may already be gone; persist regardless
		err := i.repo.WithTx(context.Background(), func(tx store.Repository) error {
			for _, log := range batch {
				if err := tx.Queries().Log(context.Background(), log); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			i.logger.Error("Failed to persist query logs", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case log, ok := <-i.logChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, log)
			if len(batch) >= i.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// drain what is already buffered before exiting
			for {
				select {
				case log, ok := <-i.logChan:
					if !ok {
						flush()
						return
					}
					batch = append(batch, log)
				default:
					flush()
					return
				}
			}
		}
	}
}

// noopIngestor is used when analytics are disabled.
type noopIngestor struct{}

func NewNoopIngestor() Ingestor { return noopIngestor{} }

func (noopIngestor) Log(*model.QueryLog)   {}
func (noopIngestor) Start(context.Context) {}
func (noopIngestor) Stop()                 {}
