package pixlet

import (
	"context"
	"errors"
	"image"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned for jobs submitted to or pending in a stopped pool.
var ErrPoolStopped = errors.New("worker pool is shutting down")

// TileRenderer renders one tile app to an image.
type TileRenderer interface {
	RenderTile(ctx context.Context, tile, appID string, width, height int, config map[string]string) (image.Image, error)
}

// RenderJob represents a render request to be processed by a worker
type RenderJob struct {
	Tile   string
	AppID  string
	Width  int
	Height int
	Config map[string]string

	ctx    context.Context
	result chan renderResult
}

type renderResult struct {
	image image.Image
	err   error
}

// WorkerPool manages a pool of render workers for concurrent processing
type WorkerPool struct {
	workers  int
	renderer TileRenderer
	jobQueue chan *RenderJob
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	stopOnce sync.Once
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, renderer TileRenderer, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		renderer: renderer,
		jobQueue: make(chan *RenderJob, workers*2), // buffer for 2x workers
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start launches all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.Info("Starting render worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("queue_size", cap(wp.jobQueue)))

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels pending jobs and waits for running renders to finish
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.logger.Info("Stopping render worker pool")
		wp.cancel()
		wp.wg.Wait()
		wp.logger.Info("Render worker pool stopped")
	})
}

// Render submits a job and waits for its image
func (wp *WorkerPool) Render(ctx context.Context, job RenderJob) (image.Image, error) {
	job.ctx = ctx
	job.result = make(chan renderResult, 1)

	select {
	case wp.jobQueue <- &job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, ErrPoolStopped
	}

	select {
	case res := <-job.result:
		return res.image, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-wp.ctx.Done():
		return nil, ErrPoolStopped
	}
}

// worker is the main loop for a single worker
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.Debug("Render worker started", zap.Int("worker_id", id))

	for {
		select {
		case job := <-wp.jobQueue:
			wp.processJob(id, job)
		case <-wp.ctx.Done():
			wp.logger.Debug("Render worker stopping", zap.Int("worker_id", id))
			return
		}
	}
}

// processJob handles a single render job
func (wp *WorkerPool) processJob(workerID int, job *RenderJob) {
	if err := job.ctx.Err(); err != nil {
		job.result <- renderResult{err: err}
		return
	}

	img, err := wp.renderer.RenderTile(job.ctx, job.Tile, job.AppID, job.Width, job.Height, job.Config)
	job.result <- renderResult{image: img, err: err}

	if err != nil {
		wp.logger.Warn("Render job failed",
			zap.Int("worker_id", workerID),
			zap.String("tile", job.Tile),
			zap.String("app_id", job.AppID),
			zap.Error(err))
		return
	}
	wp.logger.Debug("Render job completed",
		zap.Int("worker_id", workerID),
		zap.String("tile", job.Tile),
		zap.String("app_id", job.AppID))
}
