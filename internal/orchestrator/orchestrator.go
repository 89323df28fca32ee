// Package orchestrator implements the Orchestrator Service (C7): the
// public API over ProcessRecord lifecycle operations, the worker pool
// that drains the work queue, and the background loops that turn cron
// schedules and dead leases into due work.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minisource/orchestrator/internal/clock"
	"github.com/minisource/orchestrator/internal/models"
	"github.com/minisource/orchestrator/internal/queue"
	"github.com/minisource/orchestrator/internal/registry"
	"github.com/minisource/orchestrator/internal/repository"
	"github.com/minisource/orchestrator/internal/statemachine"
	"go.uber.org/zap"
)

const leaderLockKey = "orchestrator:leader"

// Locker is the distributed leader lock guarding the cron scan loop.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
	RefreshLock(ctx context.Context, key string, ttl time.Duration) error
}

// Config tunes the engine loops; zero values fall back to the §6.3
// defaults.
type Config struct {
	Workers          int
	ClaimLimit       int
	PollInterval     time.Duration
	HeartbeatEvery   time.Duration
	LeaseDeadline    time.Duration
	LockTTL          time.Duration
	CronScanInterval time.Duration
	CronHorizon      time.Duration
	// DrainTimeout bounds how long Stop waits for in-flight task
	// executions to finish before abandoning them.
	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = c.Workers * 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = 20 * time.Second
	}
	if c.LeaseDeadline <= 0 {
		c.LeaseDeadline = 60 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.CronScanInterval <= 0 {
		c.CronScanInterval = 30 * time.Second
	}
	if c.CronHorizon <= 0 {
		c.CronHorizon = 5 * time.Minute
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// Orchestrator wires together the registry, durable store, work queue,
// state machine and the four background loops (leader, scheduler, claim,
// reclaim) that make the engine run.
type Orchestrator struct {
	cfg Config

	processRepo *repository.ProcessRecordRepository
	taskRepo    *repository.TaskInstanceRepository
	reg         *registry.Registry
	q           *queue.WorkQueue
	sm          *statemachine.StateMachine
	cronParser  clock.Parser
	clk         clock.Clock
	locker      Locker
	pool        *WorkerPool
	ownerID     string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex

	// execCtx carries in-flight task executions. It is detached from
	// ctx's cancellation so Stop can let running tasks finish within the
	// drain window instead of killing them the instant shutdown begins.
	execCtx    context.Context
	execCancel context.CancelFunc

	leaderMu sync.RWMutex
	leading  bool

	log *zap.Logger
}

// New builds an Orchestrator. Call Start to begin running its loops.
func New(
	processRepo *repository.ProcessRecordRepository,
	taskRepo *repository.TaskInstanceRepository,
	reg *registry.Registry,
	q *queue.WorkQueue,
	sm *statemachine.StateMachine,
	locker Locker,
	cfg Config,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg.withDefaults(),
		processRepo: processRepo,
		taskRepo:    taskRepo,
		reg:         reg,
		q:           q,
		sm:          sm,
		cronParser:  clock.NewParser(),
		clk:         clock.System{},
		locker:      locker,
		ownerID:     fmt.Sprintf("orchestrator-%s", uuid.New().String()[:8]),
		log:         log,
	}
}

// Start begins the worker pool and background loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.execCtx, o.execCancel = context.WithCancel(context.WithoutCancel(ctx))
	o.running = true
	o.mu.Unlock()

	o.pool = NewWorkerPool(o.cfg.Workers, o.runUnit)
	o.pool.Start(o.ctx)

	o.wg.Add(4)
	go o.leaderLoop()
	go o.schedulerLoop()
	go o.claimLoop()
	go o.reclaimLoop()

	return nil
}

// IsRunning reports whether the orchestrator's loops are active.
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// Stop halts the background loops immediately and gives in-flight task
// executions up to cfg.DrainTimeout to finish before abandoning them
// (§ Orchestrator.Stop drain window).
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	if o.pool != nil {
		o.pool.Stop(o.cfg.DrainTimeout)
	}
	if o.execCancel != nil {
		o.execCancel()
	}
	o.wg.Wait()
}

// claimLoop repeatedly claims due work units and dispatches them to the
// worker pool (§4.7 worker-pool pseudocode).
func (o *Orchestrator) claimLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.claimTick()
		}
	}
}

func (o *Orchestrator) claimTick() {
	units, err := o.q.ClaimDue(o.ctx, o.ownerID, o.cfg.ClaimLimit, o.clk.Now())
	if err != nil {
		o.log.Warn("claimDue failed", zap.Error(err))
		return
	}
	for _, u := range units {
		o.pool.Submit(unitTask{
			taskInstance:    u.TaskInstance,
			processRecordID: u.ProcessRecordID,
			payload:         u.Payload,
			version:         u.Version,
		})
	}
}

// runUnit executes one claimed unit through the state machine, running a
// heartbeat ticker alongside it until ack.
func (o *Orchestrator) runUnit(t unitTask) {
	state, err := models.UnmarshalProcessRunState(t.payload)
	if err != nil {
		o.log.Error("malformed work unit payload", zap.Error(err), zap.String("task_instance", t.taskInstance))
		return
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(o.execCtx)
	defer stopHeartbeat()

	version := t.version
	var mu sync.Mutex
	go func() {
		interval := o.cfg.LeaseDeadline / 3
		if interval <= 0 {
			interval = o.cfg.HeartbeatEvery
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				v := version
				mu.Unlock()
				newVersion, err := o.q.Heartbeat(o.execCtx, t.taskInstance, o.ownerID, v, o.clk.Now())
				if err != nil {
					o.log.Warn("heartbeat lost lease", zap.String("task_instance", t.taskInstance), zap.Error(err))
					return
				}
				mu.Lock()
				version = newVersion
				mu.Unlock()
			}
		}
	}()

	mu.Lock()
	v := version
	mu.Unlock()
	if err := o.sm.Advance(o.execCtx, t.taskInstance, o.ownerID, v, state); err != nil {
		o.log.Error("state machine advance failed", zap.String("task_instance", t.taskInstance), zap.Error(err))
	}
}

// reclaimLoop periodically reclaims units whose lease expired because
// their owning worker died mid-execution (§4.5 reclaimDead).
func (o *Orchestrator) reclaimLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.LeaseDeadline)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.reclaimTick()
		}
	}
}

func (o *Orchestrator) reclaimTick() {
	n, err := o.q.ReclaimDead(o.ctx, o.clk.Now(), o.cfg.LeaseDeadline)
	if err != nil {
		o.log.Warn("reclaimDead failed", zap.Error(err))
		return
	}
	if n > 0 {
		o.log.Info("reclaimed dead work units", zap.Int64("count", n))
	}
}

// leaderLoop holds the distributed leader lock that guards the
// recurring-schedule scan: it acquires the lock once, then extends the
// same lease with RefreshLock on every subsequent tick instead of
// releasing and re-acquiring from scratch, so a node holding leadership
// doesn't hand it off between ticks just because its lease timer fired.
// schedulerLoop only checks IsLeader(); it never touches the lock itself.
func (o *Orchestrator) leaderLoop() {
	defer o.wg.Done()

	interval := o.cfg.LockTTL / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			o.releaseLeadershipOnShutdown()
			return
		case <-ticker.C:
			o.leaderTick()
		}
	}
}

func (o *Orchestrator) leaderTick() {
	if o.IsLeader() {
		if err := o.locker.RefreshLock(o.ctx, leaderLockKey, o.cfg.LockTTL); err != nil {
			o.log.Warn("leader lock refresh failed, relinquishing", zap.Error(err))
			o.setLeading(false)
		}
		return
	}

	acquired, err := o.locker.AcquireLock(o.ctx, leaderLockKey, o.cfg.LockTTL)
	if err != nil {
		o.log.Warn("leader lock probe failed", zap.Error(err))
		o.setLeading(false)
		return
	}
	o.setLeading(acquired)
}

func (o *Orchestrator) releaseLeadershipOnShutdown() {
	if o.IsLeader() {
		if err := o.locker.ReleaseLock(context.Background(), leaderLockKey); err != nil {
			o.log.Warn("leader lock release on shutdown failed", zap.Error(err))
		}
	}
	o.setLeading(false)
}

func (o *Orchestrator) setLeading(v bool) {
	o.leaderMu.Lock()
	o.leading = v
	o.leaderMu.Unlock()
}

// IsLeader reports whether this node currently holds the distributed
// leader lock.
func (o *Orchestrator) IsLeader() bool {
	o.leaderMu.RLock()
	defer o.leaderMu.RUnlock()
	return o.leading
}

// schedulerLoop runs the recurring-schedule scan, but only does anything
// on the node currently holding leadership (§4.7 recurring scheduling
// loop) — leaderLoop is the sole owner of the distributed lock.
func (o *Orchestrator) schedulerLoop() {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.CronScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.scanSchedules()
		}
	}
}

func (o *Orchestrator) scanSchedules() {
	if !o.IsLeader() {
		return
	}

	now := o.clk.Now()
	records, err := o.processRepo.FindScheduled(o.ctx)
	if err != nil {
		o.log.Warn("find scheduled records failed", zap.Error(err))
		return
	}

	for _, rec := range records {
		if rec.CurrentStatus == models.ProcessStatusInProgress {
			continue
		}
		if rec.Schedule == nil || *rec.Schedule == "" {
			continue
		}

		sched, err := o.cronParser.Parse(*rec.Schedule)
		if err != nil {
			o.log.Warn("invalid cron schedule", zap.String("process_record_id", rec.ID), zap.Error(err))
			continue
		}

		lastRun := rec.CompletedWhen
		if lastRun == nil {
			lastRun = rec.StartedWhen
		}
		from := now
		if lastRun != nil {
			from = *lastRun
		}

		next := sched.Next(from)
		if next.After(now.Add(o.cfg.CronHorizon)) {
			continue
		}

		if err := o.startAt(o.ctx, rec.ID, next, models.TriggeredByScheduled); err != nil {
			o.log.Warn("failed to enqueue scheduled occurrence", zap.String("process_record_id", rec.ID), zap.Error(err))
		}
	}
}

// startAt enqueues task index 0 of a fresh run. The PENDING/terminal ->
// IN_PROGRESS transition happens atomically inside TryClaimForStart: two
// callers racing on the same id (a manual start landing on top of a cron
// fire, or two concurrent manual starts) will only have one succeed, since
// the conditional UPDATE only affects a row still sitting in an eligible
// status. The loser gets ErrInvalidState back synchronously instead of
// enqueuing a second, redundant run (§8 "start then immediate start").
func (o *Orchestrator) startAt(ctx context.Context, id string, executionTime time.Time, triggeredBy models.TriggeredBy) error {
	rec, err := o.processRepo.FindByID(ctx, id)
	if repository.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	pt, err := o.reg.Get(rec.Type)
	if err != nil {
		return err
	}

	claimed, err := o.processRepo.TryClaimForStart(ctx, id, len(pt.Tasks), o.clk.Now())
	if err != nil {
		return err
	}
	if !claimed {
		return ErrInvalidState
	}

	state := models.ProcessRunState{
		ProcessRecordID:  rec.ID,
		ProcessTypeName:  rec.Type,
		CurrentTaskIndex: 0,
		TotalTasks:       len(pt.Tasks),
		InputData:        rec.InputData,
		TriggeredBy:      triggeredBy,
		Attempt:          1,
	}
	payload, err := state.Marshal()
	if err != nil {
		return err
	}

	taskInstanceKey := fmt.Sprintf("%s:0", rec.ID)
	return o.q.Enqueue(ctx, taskInstanceKey, rec.ID, payload, executionTime)
}

// CreateProcessRecord declares a new process record (§4.7 createProcessRecord).
func (o *Orchestrator) CreateProcessRecord(ctx context.Context, req models.CreateProcessRecordRequest) (*models.ProcessRecord, error) {
	exists, err := o.processRepo.Exists(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateID
	}

	if _, err := o.reg.Get(req.Type); err != nil {
		return nil, err
	}

	if req.Schedule != nil && *req.Schedule != "" {
		if _, err := o.cronParser.Parse(*req.Schedule); err != nil {
			return nil, fmt.Errorf("invalid schedule: %w", err)
		}
	}

	rec := &models.ProcessRecord{
		ID:            req.ID,
		Type:          req.Type,
		InputData:     req.InputData,
		Schedule:      req.Schedule,
		CurrentStatus: models.ProcessStatusPending,
	}
	if err := o.processRepo.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// StartProcessRecord enqueues the first task of a manual run (§4.7 start).
// The not-running precondition is enforced by startAt's atomic claim, not
// by a separate read-then-check here, so two concurrent calls can't both
// observe "not running yet" and both enqueue a run.
func (o *Orchestrator) StartProcessRecord(ctx context.Context, id string) error {
	return o.startAt(ctx, id, o.clk.Now(), models.TriggeredByManual)
}

// StopProcessRecord implements §4.6 stop semantics.
func (o *Orchestrator) StopProcessRecord(ctx context.Context, id string) error {
	rec, err := o.processRepo.FindByID(ctx, id)
	if repository.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if rec.CurrentStatus != models.ProcessStatusInProgress {
		return ErrInvalidState
	}

	now := o.clk.Now()
	if err := o.processRepo.MarkStopped(ctx, id, now); err != nil {
		return err
	}
	return o.q.ReclaimOrRemoveAll(ctx, id)
}

// RestartProcessRecord is stop followed by start from a fresh task index
// (§4.6 restart semantics).
func (o *Orchestrator) RestartProcessRecord(ctx context.Context, id string) error {
	rec, err := o.processRepo.FindByID(ctx, id)
	if repository.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := o.clk.Now()
	if rec.CurrentStatus == models.ProcessStatusInProgress {
		if err := o.processRepo.MarkStopped(ctx, id, now); err != nil {
			return err
		}
		if err := o.q.ReclaimOrRemoveAll(ctx, id); err != nil {
			return err
		}
	}

	if err := o.taskRepo.DeleteByProcessRecord(ctx, id); err != nil {
		return err
	}
	if err := o.processRepo.ResetForRestart(ctx, id, now); err != nil {
		return err
	}
	return o.startAt(ctx, id, now, models.TriggeredByManual)
}

// DeleteProcessRecord removes a process record and its task instances
// (§4.7 deleteProcessRecord).
func (o *Orchestrator) DeleteProcessRecord(ctx context.Context, id string) error {
	rec, err := o.processRepo.FindByID(ctx, id)
	if repository.IsNotFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if rec.CurrentStatus == models.ProcessStatusInProgress {
		return ErrInvalidState
	}

	if err := o.q.ReclaimOrRemoveAll(ctx, id); err != nil {
		return err
	}
	if err := o.taskRepo.DeleteByProcessRecord(ctx, id); err != nil {
		return err
	}
	return o.processRepo.Delete(ctx, id)
}

// GetProcessState returns a process record's current engine fields
// (§4.7 getProcessState).
func (o *Orchestrator) GetProcessState(ctx context.Context, id string) (*models.ProcessRecord, error) {
	rec, err := o.processRepo.FindByID(ctx, id)
	if repository.IsNotFound(err) {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetProcessTasks returns a record's task instances ordered ascending by
// task index (§4.7 getProcessTasks).
func (o *Orchestrator) GetProcessTasks(ctx context.Context, id string) ([]models.TaskInstance, error) {
	return o.taskRepo.FindByProcessRecord(ctx, id)
}

// ListAll returns a paginated, filtered view of process records (§6.2).
func (o *Orchestrator) ListAll(ctx context.Context, filter models.ProcessFilter) (*models.ProcessListResult, error) {
	return o.processRepo.Query(ctx, filter)
}

// ListByStatus returns every process record in the given status.
func (o *Orchestrator) ListByStatus(ctx context.Context, status models.ProcessStatus) ([]models.ProcessRecord, error) {
	return o.processRepo.FindByStatus(ctx, status)
}

// Statistics returns the §6.2 statistics read query.
func (o *Orchestrator) Statistics(ctx context.Context) (*models.Statistics, error) {
	counts, err := o.processRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	scheduled, err := o.processRepo.FindScheduled(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.Statistics{
		Pending:    counts[models.ProcessStatusPending],
		InProgress: counts[models.ProcessStatusInProgress],
		Completed:  counts[models.ProcessStatusCompleted],
		Failed:     counts[models.ProcessStatusFailed],
		Stopped:    counts[models.ProcessStatusStopped],
		Scheduled:  int64(len(scheduled)),
	}
	for _, c := range counts {
		stats.Total += c
	}
	return stats, nil
}

// GetTaskDetails returns a single task instance by id.
func (o *Orchestrator) GetTaskDetails(ctx context.Context, taskID uuid.UUID) (*models.TaskInstance, error) {
	return o.taskRepo.FindByID(ctx, taskID)
}
