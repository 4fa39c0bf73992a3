package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/fueltrip/internal/api/ledger"
	"github.com/langchou/fueltrip/internal/config"
	"github.com/langchou/fueltrip/internal/models"
	"github.com/langchou/fueltrip/internal/positioning"
	"github.com/langchou/fueltrip/internal/state"
	"github.com/langchou/fueltrip/internal/tracking"
)

// Reconciler 远端油量台账的对账接口
type Reconciler interface {
	Reconcile(ctx context.Context, vehicleID string, totalKm, lastPostedKm float64) (*ledger.SyncOutcome, error)
}

// SnapshotStore 行程快照存取（崩溃恢复）
type SnapshotStore interface {
	Save(ctx context.Context, trip *models.Trip) error
	Delete(ctx context.Context, vehicleID string) error
}

// TripStore 行程持久化
type TripStore interface {
	Create(ctx context.Context, trip *models.Trip) error
	Complete(ctx context.Context, summary *models.TripSummary) error
}

// PositionStore 轨迹持久化
type PositionStore interface {
	CreateBatch(ctx context.Context, tripID string, positions []models.Position) error
}

// MaintenanceStore 维保事件持久化
type MaintenanceStore interface {
	CreateBatch(ctx context.Context, tripID string, events []models.MaintenanceEvent) error
}

// Stores 引擎落库依赖的集合
type Stores struct {
	Trips       TripStore
	Positions   PositionStore
	Maintenance MaintenanceStore
}

// 命令类型
type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdRestore
	cmdPause
	cmdResume
	cmdStop
	cmdMaintenance
	cmdTelemetry
	cmdClose
)

type command struct {
	kind      cmdKind
	startFuel float64
	cancelled bool
	snapshot  *models.Trip
	event     *models.MaintenanceEvent
	reply     chan cmdResult
}

type cmdResult struct {
	summary   *models.TripSummary
	telemetry models.TripTelemetry
	err       error
}

// syncResult 一次对账协程的回报
type syncResult struct {
	tripID   string
	postedKm float64
	outcome  *ledger.SyncOutcome
	err      error
}

// TripEngine 行程引擎：每辆车一个
// 生命周期控制、距离累加、同步调度都串行化在同一条事件循环上，
// TripState 只被这条循环改写，唯一会挂起的操作是对账协程里的网络调用
type TripEngine struct {
	cfg       *config.Config
	logger    *zap.Logger
	vehicleID string
	provider  positioning.Provider
	ledger    Reconciler
	stores    Stores
	snapshots SnapshotStore

	cmdCh    chan command
	sampleCh chan models.LocationSample
	failCh   chan error
	resultCh chan syncResult
	loopDone chan struct{}

	closeOnce sync.Once

	subMu       sync.RWMutex
	subscribers []chan models.TripTelemetry
	onTelemetry func(models.TripTelemetry)

	// 以下字段只在事件循环内访问
	trip         *models.Trip
	machine      *state.Machine
	acc          *tracking.Accumulator
	track        []models.Position
	sub          positioning.Subscription
	ticker       *time.Ticker
	tick         <-chan time.Time
	syncInFlight bool

	// 持久化协程的汇合点，Close 时等待收尾
	persistWG sync.WaitGroup
}

// NewTripEngine 创建并启动一个行程引擎（事件循环立即运行，等待 start 命令）
func NewTripEngine(
	cfg *config.Config,
	logger *zap.Logger,
	vehicleID string,
	provider positioning.Provider,
	reconciler Reconciler,
	stores Stores,
	snapshots SnapshotStore,
	onTelemetry func(models.TripTelemetry),
) *TripEngine {
	e := &TripEngine{
		cfg:         cfg,
		logger:      logger.With(zap.String("vehicle_id", vehicleID)),
		vehicleID:   vehicleID,
		provider:    provider,
		ledger:      reconciler,
		stores:      stores,
		snapshots:   snapshots,
		onTelemetry: onTelemetry,
		cmdCh:       make(chan command),
		sampleCh:    make(chan models.LocationSample, 256),
		failCh:      make(chan error, 1),
		resultCh:    make(chan syncResult, 1),
		loopDone:    make(chan struct{}),
		acc:         tracking.NewAccumulator(cfg.JitterThresholdM),
	}

	go e.run()
	return e
}

// Start 开始新行程，仅在没有活跃行程时合法
func (e *TripEngine) Start(ctx context.Context, startFuelPercent float64) error {
	_, err := e.do(ctx, command{kind: cmdStart, startFuel: startFuelPercent})
	return err
}

// Restore 从崩溃恢复快照重建行程，恢复后处于 paused 阶段等待用户继续
func (e *TripEngine) Restore(ctx context.Context, snap *models.Trip) error {
	_, err := e.do(ctx, command{kind: cmdRestore, snapshot: snap})
	return err
}

// Pause 暂停行程
func (e *TripEngine) Pause(ctx context.Context) error {
	_, err := e.do(ctx, command{kind: cmdPause})
	return err
}

// Resume 恢复行程
func (e *TripEngine) Resume(ctx context.Context) error {
	_, err := e.do(ctx, command{kind: cmdResume})
	return err
}

// Stop 结束行程并返回汇总；cancelled 标记行程为取消而非完成
func (e *TripEngine) Stop(ctx context.Context, cancelled bool) (*models.TripSummary, error) {
	res, err := e.do(ctx, command{kind: cmdStop, cancelled: cancelled})
	if err != nil {
		return nil, err
	}
	return res.summary, nil
}

// LogMaintenance 记录行程中的维保事件
// refuel 事件是清除低油量闩锁的唯一途径，并立即采用其回报的油量
func (e *TripEngine) LogMaintenance(ctx context.Context, event models.MaintenanceEvent) error {
	_, err := e.do(ctx, command{kind: cmdMaintenance, event: &event})
	return err
}

// Telemetry 读取当前遥测快照
func (e *TripEngine) Telemetry(ctx context.Context) (models.TripTelemetry, error) {
	res, err := e.do(ctx, command{kind: cmdTelemetry})
	return res.telemetry, err
}

// Subscribe 订阅遥测更新
func (e *TripEngine) Subscribe() <-chan models.TripTelemetry {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	ch := make(chan models.TripTelemetry, 16)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Close 终止引擎：未结束的行程以快照形态保留，重启后可恢复
func (e *TripEngine) Close() {
	e.closeOnce.Do(func() {
		reply := make(chan cmdResult, 1)
		select {
		case e.cmdCh <- command{kind: cmdClose, reply: reply}:
			<-e.loopDone
		case <-e.loopDone:
		}
		e.persistWG.Wait()
	})
}

// do 把命令送进事件循环并等待回复
func (e *TripEngine) do(ctx context.Context, cmd command) (cmdResult, error) {
	cmd.reply = make(chan cmdResult, 1)

	select {
	case e.cmdCh <- cmd:
	case <-e.loopDone:
		return cmdResult{}, &state.InvalidTransitionError{Event: eventName(cmd.kind), Phase: state.PhaseStopped}
	case <-ctx.Done():
		return cmdResult{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-ctx.Done():
		return cmdResult{}, ctx.Err()
	}
}

func eventName(kind cmdKind) string {
	switch kind {
	case cmdStart, cmdRestore:
		return state.EventStart
	case cmdPause:
		return state.EventPause
	case cmdResume:
		return state.EventResume
	case cmdStop:
		return state.EventStop
	case cmdMaintenance:
		return "log_maintenance"
	default:
		return "telemetry"
	}
}

// run 事件循环：所有 TripState 变更的唯一入口
func (e *TripEngine) run() {
	for {
		select {
		case cmd := <-e.cmdCh:
			if cmd.kind == cmdClose {
				e.teardown()
				cmd.reply <- cmdResult{}
				close(e.loopDone)
				return
			}
			e.handleCommand(cmd)

		case sample := <-e.sampleCh:
			e.handleSample(sample)

		case err := <-e.failCh:
			e.handlePositioningFailure(err)

		case <-e.tick:
			e.handleTick()

		case res := <-e.resultCh:
			e.handleSyncResult(res)
		}
	}
}

// phase 当前阶段；没有状态机时视为 idle
func (e *TripEngine) phase() string {
	if e.machine == nil {
		return state.PhaseIdle
	}
	return e.machine.Current()
}

func (e *TripEngine) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStart:
		cmd.reply <- cmdResult{err: e.startTrip(cmd.startFuel)}
	case cmdRestore:
		cmd.reply <- cmdResult{err: e.restoreTrip(cmd.snapshot)}
	case cmdPause:
		cmd.reply <- cmdResult{err: e.pauseTrip(false)}
	case cmdResume:
		cmd.reply <- cmdResult{err: e.resumeTrip()}
	case cmdStop:
		summary, err := e.stopTrip(cmd.cancelled)
		cmd.reply <- cmdResult{summary: summary, err: err}
	case cmdMaintenance:
		cmd.reply <- cmdResult{err: e.logMaintenance(cmd.event)}
	case cmdTelemetry:
		cmd.reply <- cmdResult{telemetry: e.telemetry()}
	}
}

// startTrip 开始新行程：重置状态、打开定位订阅、启动同步调度
func (e *TripEngine) startTrip(startFuel float64) error {
	switch e.phase() {
	case state.PhaseTracking, state.PhasePaused:
		return &state.InvalidTransitionError{Event: state.EventStart, Phase: e.phase()}
	}

	machine := state.NewMachine("")
	if err := machine.Trigger(state.EventStart); err != nil {
		return err
	}

	sub, err := e.provider.Subscribe(e.enqueueSample, e.enqueueFailure)
	if err != nil {
		return err
	}

	e.machine = machine
	e.sub = sub
	e.acc.Reset()
	e.track = nil
	e.trip = &models.Trip{
		ID:                    uuid.NewString(),
		VehicleID:             e.vehicleID,
		Phase:                 state.PhaseTracking,
		FuelLevelPercent:      clampPercent(startFuel),
		StartFuelLevelPercent: clampPercent(startFuel),
		StartedAtMs:           time.Now().UnixMilli(),
	}
	e.startScheduler()

	trip := *e.trip
	e.persistAsync("create trip", func(ctx context.Context) error {
		return e.stores.Trips.Create(ctx, &trip)
	})
	e.snapshotAsync()

	e.logger.Info("Started trip",
		zap.String("trip_id", e.trip.ID),
		zap.Float64("start_fuel_percent", e.trip.StartFuelLevelPercent))
	e.publish()
	return nil
}

// restoreTrip 从快照恢复：进入 paused，等待定位重新就绪后由用户 resume
func (e *TripEngine) restoreTrip(snap *models.Trip) error {
	switch e.phase() {
	case state.PhaseTracking, state.PhasePaused:
		return &state.InvalidTransitionError{Event: state.EventStart, Phase: e.phase()}
	}

	sub, err := e.provider.Subscribe(e.enqueueSample, e.enqueueFailure)
	if err != nil {
		return err
	}

	e.machine = state.NewMachine(state.PhasePaused)
	e.sub = sub
	e.acc.Prime(snap.TotalDistanceKm)
	e.track = nil

	restored := *snap
	restored.Phase = state.PhasePaused
	restored.PositioningLost = true
	e.trip = &restored
	e.startScheduler()

	e.logger.Info("Restored trip from snapshot",
		zap.String("trip_id", e.trip.ID),
		zap.Float64("total_km", e.trip.TotalDistanceKm),
		zap.Float64("last_posted_km", e.trip.LastPostedKm))
	e.publish()
	return nil
}

func (e *TripEngine) pauseTrip(positioningLost bool) error {
	if e.machine == nil {
		return &state.InvalidTransitionError{Event: state.EventPause, Phase: state.PhaseIdle}
	}
	if err := e.machine.Trigger(state.EventPause); err != nil {
		return err
	}

	e.trip.Phase = state.PhasePaused
	e.trip.PositioningLost = positioningLost
	// 清掉参考点：暂停期间的位移不许在恢复时一次性跳变进总距离
	e.acc.Rebase()

	e.snapshotAsync()
	e.logger.Info("Paused trip", zap.String("trip_id", e.trip.ID), zap.Bool("positioning_lost", positioningLost))
	e.publish()
	return nil
}

func (e *TripEngine) resumeTrip() error {
	if e.machine == nil {
		return &state.InvalidTransitionError{Event: state.EventResume, Phase: state.PhaseIdle}
	}
	if err := e.machine.Trigger(state.EventResume); err != nil {
		return err
	}

	e.trip.Phase = state.PhaseTracking
	e.trip.PositioningLost = false
	e.acc.Rebase()

	e.snapshotAsync()
	e.logger.Info("Resumed trip", zap.String("trip_id", e.trip.ID))
	e.publish()
	return nil
}

// stopTrip 结束行程：无条件释放订阅与定时器，发一次尽力而为的末次对账，
// 汇总数据落库后把 TripSummary 交还调用方
func (e *TripEngine) stopTrip(cancelled bool) (*models.TripSummary, error) {
	if e.machine == nil {
		return nil, &state.InvalidTransitionError{Event: state.EventStop, Phase: state.PhaseIdle}
	}
	if err := e.machine.Trigger(state.EventStop); err != nil {
		return nil, err
	}

	// 资源释放先于一切，任何退出路径都不许漏
	e.releaseResources()

	trip := e.trip
	trip.Phase = state.PhaseStopped

	// 末次对账：不阻塞 stop 返回，结果到达时行程已终止、一律丢弃
	if trip.TotalDistanceKm > trip.LastPostedKm {
		e.finalReconcileAsync(trip.ID, trip.TotalDistanceKm, trip.LastPostedKm)
	}

	summary := e.buildSummary(trip, cancelled)

	track := e.track
	events := append([]models.MaintenanceEvent(nil), trip.Maintenance...)
	e.persistAsync("finalize trip", func(ctx context.Context) error {
		if err := e.stores.Trips.Complete(ctx, summary); err != nil {
			return err
		}
		if len(track) > 0 {
			if err := e.stores.Positions.CreateBatch(ctx, summary.TripID, track); err != nil {
				return err
			}
		}
		if len(events) > 0 {
			if err := e.stores.Maintenance.CreateBatch(ctx, summary.TripID, events); err != nil {
				return err
			}
		}
		return e.snapshots.Delete(ctx, e.vehicleID)
	})

	e.trip = nil
	e.track = nil

	e.logger.Info("Stopped trip",
		zap.String("trip_id", summary.TripID),
		zap.Float64("distance_km", summary.DistanceKm),
		zap.Float64("duration_min", summary.DurationMin),
		zap.String("status", summary.Status))
	e.publish()
	return summary, nil
}

// logMaintenance 追加维保事件；refuel 立即更新油量并清除低油量闩锁
func (e *TripEngine) logMaintenance(ev *models.MaintenanceEvent) error {
	phase := e.phase()
	if phase != state.PhaseTracking && phase != state.PhasePaused {
		return &state.InvalidTransitionError{Event: "log_maintenance", Phase: phase}
	}

	event := *ev
	event.TripID = e.trip.ID
	if event.TimestampMs == 0 {
		event.TimestampMs = time.Now().UnixMilli()
	}
	e.trip.Maintenance = append(e.trip.Maintenance, event)

	if event.Type == models.MaintenanceRefuel {
		// 任何加油事件都清除低油量闩锁；油量只在事件携带读数时更新
		if event.ResultingFuelPercent != nil {
			e.trip.FuelLevelPercent = clampPercent(*event.ResultingFuelPercent)
		}
		e.trip.LowFuelWarning = false
		e.logger.Info("Refuel logged, low fuel warning cleared",
			zap.String("trip_id", e.trip.ID),
			zap.Float64("fuel_percent", e.trip.FuelLevelPercent))
	}

	e.snapshotAsync()
	e.publish()
	return nil
}

// handleSample 处理一个定位样本：同步、CPU 密集，绝不做 I/O
func (e *TripEngine) handleSample(sample models.LocationSample) {
	if e.trip == nil || e.phase() != state.PhaseTracking {
		return
	}

	delta := e.acc.Feed(sample)
	if delta <= 0 {
		return
	}

	e.trip.TotalDistanceKm = e.acc.TotalKm()

	speed := e.acc.SpeedKmh()
	e.track = append(e.track, models.Position{
		TripID:     e.trip.ID,
		Latitude:   sample.Latitude,
		Longitude:  sample.Longitude,
		SpeedKmh:   &speed,
		RecordedAt: sample.TimestampMs,
	})

	e.publish()
}

// handleTick 同步调度：paused 静默跳过；增量为正且无在途对账时才发起
func (e *TripEngine) handleTick() {
	if e.trip == nil || e.phase() != state.PhaseTracking {
		return
	}
	if e.syncInFlight {
		e.logger.Debug("Reconcile already in flight, skipping tick", zap.String("trip_id", e.trip.ID))
		return
	}
	if e.trip.TotalDistanceKm <= e.trip.LastPostedKm {
		return
	}

	e.syncInFlight = true
	e.trip.LastSyncAtMs = time.Now().UnixMilli()

	tripID := e.trip.ID
	totalKm := e.trip.TotalDistanceKm
	lastPostedKm := e.trip.LastPostedKm

	// 唯一的挂起点：网络调用在自己的协程里跑，结果回投事件循环
	go func() {
		outcome, err := e.ledger.Reconcile(context.Background(), e.vehicleID, totalKm, lastPostedKm)
		e.resultCh <- syncResult{tripID: tripID, postedKm: totalKm, outcome: outcome, err: err}
	}()
}

// handleSyncResult 折叠对账结果；行程已停止或已换代的结果直接丢弃
func (e *TripEngine) handleSyncResult(res syncResult) {
	e.syncInFlight = false

	if e.trip == nil || e.trip.ID != res.tripID {
		e.logger.Debug("Discarding stale sync result", zap.String("trip_id", res.tripID))
		return
	}

	if res.err != nil {
		// 瞬态失败不终止行程，下一个 tick 会带着更大的增量自然重试
		e.logger.Warn("Reconcile failed, will retry on next tick",
			zap.String("trip_id", res.tripID),
			zap.Error(res.err))
		return
	}

	if !res.outcome.Applied() {
		return
	}

	e.trip.FuelLevelPercent = clampPercent(res.outcome.NewFuelLevelPercent)
	// 只有确认 applied 才推进已上报距离，失败时保持不动以保证重试幂等
	e.trip.LastPostedKm = res.postedKm
	if res.outcome.LowFuelWarning {
		// 闩锁：置位后只有 refuel 能清除
		e.trip.LowFuelWarning = true
	}

	e.snapshotAsync()
	e.logger.Info("Fuel level reconciled",
		zap.String("trip_id", res.tripID),
		zap.Float64("posted_km", res.postedKm),
		zap.Float64("fuel_percent", e.trip.FuelLevelPercent),
		zap.Bool("low_fuel", e.trip.LowFuelWarning))
	e.publish()
}

// handlePositioningFailure 定位故障升级为自动暂停，绝不拿陈旧样本继续累计
func (e *TripEngine) handlePositioningFailure(err error) {
	if e.trip == nil || e.phase() != state.PhaseTracking {
		return
	}

	e.logger.Warn("Positioning failure, auto-pausing trip",
		zap.String("trip_id", e.trip.ID),
		zap.Error(err))
	if perr := e.pauseTrip(true); perr != nil {
		e.logger.Error("Failed to auto-pause trip", zap.Error(perr))
	}
}

// telemetry 当前遥测快照
func (e *TripEngine) telemetry() models.TripTelemetry {
	t := models.TripTelemetry{
		VehicleID: e.vehicleID,
		Phase:     e.phase(),
	}
	if e.trip != nil {
		t.TripID = e.trip.ID
		t.TotalDistanceKm = e.trip.TotalDistanceKm
		t.FuelLevelPercent = e.trip.FuelLevelPercent
		t.LowFuelWarning = e.trip.LowFuelWarning
		t.SpeedKmh = e.acc.SpeedKmh()
		t.PositioningLost = e.trip.PositioningLost
	}
	return t
}

// enqueueSample 定位回调：非阻塞入队，保持到达顺序
func (e *TripEngine) enqueueSample(sample models.LocationSample) {
	select {
	case e.sampleCh <- sample:
	default:
		// 队列满时丢弃最新样本，漏掉个别 GPS 点可以容忍
	}
}

func (e *TripEngine) enqueueFailure(err error) {
	select {
	case e.failCh <- err:
	default:
	}
}

func (e *TripEngine) startScheduler() {
	e.ticker = time.NewTicker(e.cfg.SyncInterval)
	e.tick = e.ticker.C
}

// releaseResources 释放定位订阅与调度定时器，幂等
func (e *TripEngine) releaseResources() {
	if e.sub != nil {
		e.sub.Cancel()
		e.sub = nil
	}
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
		e.tick = nil
	}
}

// teardown 引擎关闭：活跃行程保留快照，重启后可恢复
func (e *TripEngine) teardown() {
	e.releaseResources()

	if e.trip == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FinalSyncTimeout)
	defer cancel()

	trip := *e.trip
	if err := e.snapshots.Save(ctx, &trip); err != nil {
		e.logger.Error("Failed to save trip snapshot on shutdown", zap.Error(err))
	} else {
		e.logger.Info("Trip snapshot saved for recovery", zap.String("trip_id", trip.ID))
	}
}

// finalReconcileAsync 末次对账：限时、只记日志、不改状态
func (e *TripEngine) finalReconcileAsync(tripID string, totalKm, lastPostedKm float64) {
	e.persistWG.Add(1)
	go func() {
		defer e.persistWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FinalSyncTimeout)
		defer cancel()

		outcome, err := e.ledger.Reconcile(ctx, e.vehicleID, totalKm, lastPostedKm)
		if err != nil {
			e.logger.Warn("Final reconcile failed", zap.String("trip_id", tripID), zap.Error(err))
			return
		}
		e.logger.Info("Final reconcile finished",
			zap.String("trip_id", tripID),
			zap.String("status", outcome.Status))
	}()
}

// buildSummary 组装不可变的行程汇总，纯数据、无 I/O
func (e *TripEngine) buildSummary(trip *models.Trip, cancelled bool) *models.TripSummary {
	startedAt := time.UnixMilli(trip.StartedAtMs)
	endedAt := time.Now()
	duration := endedAt.Sub(startedAt)

	avgSpeed := 0.0
	if hours := duration.Hours(); hours > 0 {
		avgSpeed = trip.TotalDistanceKm / hours
	}

	consumed := trip.StartFuelLevelPercent - trip.FuelLevelPercent
	if consumed < 0 {
		// 行程中加过油，消耗量按不低于零处理
		consumed = 0
	}

	status := models.TripCompleted
	if cancelled {
		status = models.TripCancelled
	}

	return &models.TripSummary{
		TripID:              trip.ID,
		VehicleID:           trip.VehicleID,
		StartedAt:           startedAt,
		EndedAt:             endedAt,
		DurationMin:         duration.Minutes(),
		DistanceKm:          trip.TotalDistanceKm,
		AvgSpeedKmh:         avgSpeed,
		FuelStartPercent:    trip.StartFuelLevelPercent,
		FuelEndPercent:      trip.FuelLevelPercent,
		FuelConsumedPercent: consumed,
		LowFuelWarning:      trip.LowFuelWarning,
		Status:              status,
		Maintenance:         append([]models.MaintenanceEvent(nil), trip.Maintenance...),
	}
}

// snapshotAsync 异步写快照，不阻塞事件循环
func (e *TripEngine) snapshotAsync() {
	if e.trip == nil {
		return
	}
	trip := *e.trip
	trip.Phase = e.phase()
	trip.Maintenance = append([]models.MaintenanceEvent(nil), e.trip.Maintenance...)

	e.persistWG.Add(1)
	go func() {
		defer e.persistWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FinalSyncTimeout)
		defer cancel()

		if err := e.snapshots.Save(ctx, &trip); err != nil {
			e.logger.Error("Failed to save trip snapshot", zap.Error(err))
		}
	}()
}

// persistAsync 异步落库，失败只记日志，不影响行程
func (e *TripEngine) persistAsync(op string, fn func(ctx context.Context) error) {
	e.persistWG.Add(1)
	go func() {
		defer e.persistWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := fn(ctx); err != nil {
			e.logger.Error("Persistence failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

// publish 推送遥测给订阅者与外部回调
func (e *TripEngine) publish() {
	t := e.telemetry()
	if e.trip != nil {
		e.trip.Phase = t.Phase
	}

	e.subMu.RLock()
	for _, ch := range e.subscribers {
		select {
		case ch <- t:
		default:
			// 跳过慢消费者
		}
	}
	e.subMu.RUnlock()

	if e.onTelemetry != nil {
		e.onTelemetry(t)
	}
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
