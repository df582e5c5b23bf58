package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ideahub/server/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded by the friend graph and the admin surface.
const (
	ActionFriendRequestCreate = "friend_request.create"
	ActionFriendRequestCancel = "friend_request.cancel"
	ActionFriendRequestAccept = "friend_request.accept"
	ActionFriendRequestReject = "friend_request.reject"
	ActionFriendRemove        = "friend.remove"
	ActionAdminKick           = "admin.kick"
)

// Entry holds one audit event to be logged.
type Entry struct {
	TraceID   string
	ActorID   string
	SubjectID string
	Action    string
	Request   interface{}
	Err       error
	IP        string
	Duration  time.Duration
}

// Options tunes the batch writer. Zero values take the defaults.
type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Service logs audit entries asynchronously in batches. Entries are dropped,
// with a warning, when the queue is full.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
	opts     Options
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger, opts ...Options) *Service {
	o := Options{QueueSize: 1024, BatchSize: 100, FlushInterval: 2 * time.Second}
	if len(opts) > 0 {
		if opts[0].QueueSize > 0 {
			o.QueueSize = opts[0].QueueSize
		}
		if opts[0].BatchSize > 0 {
			o.BatchSize = opts[0].BatchSize
		}
		if opts[0].FlushInterval > 0 {
			o.FlushInterval = opts[0].FlushInterval
		}
	}
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AuditLog, o.QueueSize),
		stopCh: make(chan struct{}),
		logger: logger,
		opts:   o,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry Entry) {
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		ActorID:    entry.ActorID,
		SubjectID:  entry.SubjectID,
		Action:     entry.Action,
		IP:         entry.IP,
		DurationMs: int(entry.Duration / time.Millisecond),
	}
	if entry.Request != nil {
		if raw, err := json.Marshal(entry.Request); err == nil {
			record.Request = datatypes.JSON(raw)
		}
	}
	if entry.Err != nil {
		record.Error = entry.Err.Error()
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit queue full, dropping entry",
			zap.String("action", entry.Action))
	}
}

// Recent returns the newest entries, optionally filtered by actor.
func (svc *Service) Recent(ctx context.Context, actorID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if actorID != "" {
		q = q.Where("actor_id = ?", actorID)
	}
	var logs []model.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished or ctx is done.
func (svc *Service) Stop(ctx context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	if ctx == nil {
		<-done
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
		svc.logger.Warn("audit flush interrupted", zap.Error(ctx.Err()))
	}
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, svc.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.CreateInBatches(batch, svc.opts.BatchSize).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= svc.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
					if len(batch) >= svc.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
