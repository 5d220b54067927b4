package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// 系統設計問題：
//   多個房間、多條連接與計時器同時產生事件，如何避免競態？
//
// 設計方案：
//   - 單一 goroutine 依序處理所有 Command（客戶端指令與計時器到期）
//   - 每個指令連同它觸發的廣播完整執行後才處理下一個
//   - 計時器只負責把指令送回 inbox，不直接碰任何狀態
//   - 單一指令失敗（找不到卡牌、panic）只丟棄該指令

// Broadcaster 把事件送到連接
type Broadcaster interface {
	// Send 只送給一條連接
	Send(conn ConnID, ev Event)
	// Publish 送給房間內所有訂閱的連接
	Publish(roomID string, ev Event)
	Subscribe(conn ConnID, roomID string)
	Unsubscribe(conn ConnID)
}

// session 一條連接目前的身分
type session struct {
	roomID string
	name   string
}

// Dispatcher 指令調度器
type Dispatcher struct {
	manager  *Manager
	out      Broadcaster
	sessions map[ConnID]*session
	strict   bool

	inbox  chan Command
	done   chan struct{}
	logger *slog.Logger
}

// Option 調度器選項
type Option func(*dispatcherOptions)

type dispatcherOptions struct {
	scheduler Scheduler
	rng       *rand.Rand
	inboxSize int
}

// WithScheduler 替換計時器（測試用）
func WithScheduler(s Scheduler) Option {
	return func(o *dispatcherOptions) { o.scheduler = s }
}

// WithRand 固定亂數來源
func WithRand(r *rand.Rand) Option {
	return func(o *dispatcherOptions) { o.rng = r }
}

// WithInboxSize 指令佇列長度
func WithInboxSize(n int) Option {
	return func(o *dispatcherOptions) { o.inboxSize = n }
}

// NewDispatcher 建立調度器
func NewDispatcher(cfg GameConfig, out Broadcaster, logger *slog.Logger, opts ...Option) *Dispatcher {
	o := dispatcherOptions{inboxSize: 1024}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dispatcher{
		out:      out,
		sessions: make(map[ConnID]*session),
		strict:   cfg.Strict,
		inbox:    make(chan Command, o.inboxSize),
		done:     make(chan struct{}),
		logger:   logger.With("component", "dispatcher"),
	}
	if o.scheduler == nil {
		o.scheduler = afterFuncScheduler{submit: d.Submit}
	}
	d.manager = NewManager(cfg, o.scheduler, o.rng, logger)
	return d
}

// afterFuncScheduler 到期後把指令送回調度迴圈
type afterFuncScheduler struct {
	submit func(Command) bool
}

func (s afterFuncScheduler) Schedule(d time.Duration, cmd Command) func() bool {
	t := time.AfterFunc(d, func() { s.submit(cmd) })
	return t.Stop
}

// Manager 房間註冊表，只能在調度迴圈內或 Run 之前使用
func (d *Dispatcher) Manager() *Manager {
	return d.manager
}

// Submit 把指令放進佇列；調度器已停止時回傳 false
func (d *Dispatcher) Submit(cmd Command) bool {
	if d.stopped() {
		return false
	}
	select {
	case d.inbox <- cmd:
		return true
	case <-d.done:
		return false
	}
}

// Run 處理指令直到 ctx 結束
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	defer d.manager.Close()

	d.logger.Info("調度器啟動")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("調度器停止", "reason", ctx.Err())
			return ctx.Err()
		case cmd := <-d.inbox:
			if err := d.Process(cmd); err != nil {
				d.logDropped(cmd, err)
			}
		}
	}
}

// Process 同步處理一個指令
//
// 非 strict 模式下 panic 會轉成錯誤回傳。
func (d *Dispatcher) Process(cmd Command) (err error) {
	if !d.strict {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("處理 %s 時發生 panic: %v", cmd.commandName(), r)
			}
		}()
	}
	return d.apply(cmd)
}

func (d *Dispatcher) logDropped(cmd Command, err error) {
	attrs := []any{"command", cmd.commandName(), "error", err}
	if conn, ok := connOf(cmd); ok {
		attrs = append(attrs, "conn_id", conn)
		if s, ok := d.sessions[conn]; ok {
			attrs = append(attrs, "room_code", s.roomID, "player", s.name)
		}
	}
	d.logger.Warn("丟棄指令", attrs...)
}

func connOf(cmd Command) (ConnID, bool) {
	switch c := cmd.(type) {
	case Join:
		return c.ConnID, true
	case Rename:
		return c.ConnID, true
	case MoveCard:
		return c.ConnID, true
	case ReleaseCard:
		return c.ConnID, true
	case Disconnect:
		return c.ConnID, true
	}
	return "", false
}

func (d *Dispatcher) apply(cmd Command) error {
	switch c := cmd.(type) {
	case Join:
		return d.join(c)
	case Rename:
		return d.rename(c)
	case MoveCard:
		return d.moveCard(c)
	case ReleaseCard:
		return d.releaseCard(c)
	case Disconnect:
		return d.disconnect(c)
	case ExpirePlayer:
		return d.expirePlayer(c)
	case ExpireRoom:
		if d.manager.ExpireRoom(c.RoomID, c.Token) {
			d.logger.Info("刪除空房間", "room_code", c.RoomID)
		}
		return nil
	case statsQuery:
		c.reply <- d.manager.Stats()
		return nil
	case roomQuery:
		info, err := d.manager.Info(c.code)
		c.reply <- roomReply{info: info, err: err}
		return nil
	default:
		return fmt.Errorf("%w: 未知指令 %T", ErrBadPayload, cmd)
	}
}

func (d *Dispatcher) join(c Join) error {
	// 同一條連接再次 join 視為先離開原房間
	if _, ok := d.sessions[c.ConnID]; ok {
		if err := d.disconnect(Disconnect{ConnID: c.ConnID}); err != nil {
			return err
		}
	}

	room, created, err := d.manager.ResolveOrCreate(c.RoomCode, c.RequireExisting)
	if errors.Is(err, ErrRoomNotFound) {
		d.out.Send(c.ConnID, Event{Type: EventRoomError, Data: RoomError{
			RoomCode: NormalizeCode(c.RoomCode),
			Message:  ErrRoomNotFound.Error(),
		}})
		d.logger.Info("加入不存在的房間", "conn_id", c.ConnID, "room_code", NormalizeCode(c.RoomCode))
		return nil
	}
	if err != nil {
		return err
	}

	name, reconnected := room.AddPlayer(c.Name)
	d.sessions[c.ConnID] = &session{roomID: room.ID, name: name}
	d.out.Subscribe(c.ConnID, room.ID)

	d.out.Send(c.ConnID, Event{Type: EventRegistered, Data: Registered{PlayerName: name, RoomCode: room.ID}})
	d.out.Send(c.ConnID, Event{Type: EventFullTable, Data: room.Table().Cards()})
	if reconnected {
		d.out.Send(c.ConnID, Event{Type: EventPlayers, Data: room.Players()})
	} else {
		d.out.Publish(room.ID, Event{Type: EventPlayers, Data: room.Players()})
	}

	d.logger.Info("玩家加入",
		"room_code", room.ID,
		"player", name,
		"created", created,
		"reconnected", reconnected,
		"players", room.PlayerCount())
	return nil
}

func (d *Dispatcher) rename(c Rename) error {
	s, room, err := d.lookup(c.ConnID)
	if err != nil {
		return err
	}

	name, ok := room.ChangeName(s.name, c.Name)
	if !ok {
		return fmt.Errorf("玩家 %q 不在房間 %s", s.name, room.ID)
	}
	d.logger.Info("玩家改名", "room_code", room.ID, "from", s.name, "to", name)
	s.name = name

	d.out.Send(c.ConnID, Event{Type: EventRegistered, Data: Registered{PlayerName: name, RoomCode: room.ID}})
	d.out.Publish(room.ID, Event{Type: EventPlayers, Data: room.Players()})
	return nil
}

func (d *Dispatcher) moveCard(c MoveCard) error {
	s, room, err := d.lookup(c.ConnID)
	if err != nil {
		return err
	}

	card, reorder, err := room.MoveCard(c.CardID, c.DX, c.DY)
	if err != nil {
		return err
	}

	d.out.Publish(room.ID, Event{Type: EventCardDelta, Data: CardDelta{
		ID:           card.ID,
		Card:         card.Snapshot(),
		MovedBy:      s.name,
		ActivePlayer: room.ActivePlayer(),
	}})
	if reorder != nil {
		d.out.Publish(room.ID, Event{Type: EventReorder, Data: *reorder})
	}
	return nil
}

func (d *Dispatcher) releaseCard(c ReleaseCard) error {
	s, room, err := d.lookup(c.ConnID)
	if err != nil {
		return err
	}

	res, err := room.ReleaseCard(c.CardID)
	if err != nil {
		return err
	}

	if res.Revealed != nil {
		d.out.Publish(room.ID, Event{Type: EventReveal, Data: Reveal{
			ID:   res.Card.ID,
			Rank: res.Revealed.Rank,
			Suit: res.Revealed.Suit,
		}})
		d.logger.Debug("翻牌", "room_code", room.ID, "player", s.name, "card", res.Card.ID)
	}
	d.out.Publish(room.ID, Event{Type: EventCardDelta, Data: CardDelta{
		ID:           res.Card.ID,
		Card:         res.Card.Snapshot(),
		MovedBy:      s.name,
		ActivePlayer: room.ActivePlayer(),
	}})
	if res.Reorder != nil {
		d.out.Publish(room.ID, Event{Type: EventReorder, Data: *res.Reorder})
	}
	if res.AdvanceTurn {
		d.out.Publish(room.ID, Event{Type: EventPlayers, Data: room.Players()})
	}
	return nil
}

func (d *Dispatcher) disconnect(c Disconnect) error {
	s, ok := d.sessions[c.ConnID]
	if !ok {
		// 尚未加入房間的連接
		return nil
	}
	delete(d.sessions, c.ConnID)
	d.out.Unsubscribe(c.ConnID)

	room, err := d.manager.Get(s.roomID)
	if err != nil {
		return err
	}
	if room.DisconnectPlayer(s.name) {
		d.logger.Info("玩家斷線", "room_code", room.ID, "player", s.name)
	}
	return nil
}

func (d *Dispatcher) expirePlayer(c ExpirePlayer) error {
	room, err := d.manager.Get(c.RoomID)
	if err != nil {
		// 房間已被刪除，計時器遲到
		return nil
	}
	if !room.ExpirePlayer(c.Name, c.Token) {
		return nil
	}

	d.logger.Info("玩家已移除", "room_code", room.ID, "player", c.Name, "players", room.PlayerCount())
	if room.IsEmpty() {
		d.manager.ScheduleDeletion(room.ID)
		return nil
	}
	d.out.Publish(room.ID, Event{Type: EventPlayers, Data: room.Players()})
	return nil
}

func (d *Dispatcher) lookup(conn ConnID) (*session, *Room, error) {
	s, ok := d.sessions[conn]
	if !ok {
		return nil, nil, ErrNotJoined
	}
	room, err := d.manager.Get(s.roomID)
	if err != nil {
		return nil, nil, err
	}
	return s, room, nil
}

// Stats 經由調度迴圈取得統計
func (d *Dispatcher) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := d.submitQuery(ctx, statsQuery{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// RoomInfo 經由調度迴圈取得房間摘要
func (d *Dispatcher) RoomInfo(ctx context.Context, code string) (RoomInfo, error) {
	reply := make(chan roomReply, 1)
	if err := d.submitQuery(ctx, roomQuery{code: code, reply: reply}); err != nil {
		return RoomInfo{}, err
	}
	select {
	case r := <-reply:
		return r.info, r.err
	case <-ctx.Done():
		return RoomInfo{}, ctx.Err()
	}
}

var errDispatcherStopped = errors.New("dispatcher stopped")

func (d *Dispatcher) submitQuery(ctx context.Context, cmd Command) error {
	if d.stopped() {
		return errDispatcherStopped
	}
	select {
	case d.inbox <- cmd:
		return nil
	case <-d.done:
		return errDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) stopped() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}
