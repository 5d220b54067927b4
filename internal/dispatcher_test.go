package internal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koopa0/system-design/14-card-table/internal"
	"github.com/koopa0/system-design/14-card-table/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, cfg internal.GameConfig) (*internal.Dispatcher, *recorder, *fakeScheduler) {
	t.Helper()
	rec := newRecorder()
	sched := &fakeScheduler{}
	d := internal.NewDispatcher(cfg, rec, testLogger(),
		internal.WithScheduler(sched),
		internal.WithRand(testRand()))
	return d, rec, sched
}

func mustProcess(t *testing.T, d *internal.Dispatcher, cmd internal.Command) {
	t.Helper()
	require.NoError(t, d.Process(cmd))
}

// TestDispatcher_Scenario 完整流程：建房、加入、拖牌、翻牌、斷線重連
func TestDispatcher_Scenario(t *testing.T) {
	d, rec, sched := newTestDispatcher(t, testGameConfig())

	// Alice 建立 AB12
	mustProcess(t, d, internal.Join{ConnID: "c1", Name: "Alice", RoomCode: "AB12"})
	events := rec.take()

	reg := ofType(events, internal.EventRegistered)
	require.Len(t, reg, 1)
	assert.Equal(t, internal.ConnID("c1"), reg[0].conn)
	assert.Equal(t, internal.Registered{PlayerName: "Alice", RoomCode: "AB12"}, reg[0].event.Data)

	full := ofType(events, internal.EventFullTable)
	require.Len(t, full, 1)
	assert.Equal(t, internal.ConnID("c1"), full[0].conn, "full-table 只送給加入者")
	assert.Len(t, full[0].event.Data.([]table.Card), table.DeckSize)

	players := ofType(events, internal.EventPlayers)
	require.Len(t, players, 1)
	assert.Equal(t, "AB12", players[0].room)
	ps := players[0].event.Data.(internal.PlayersState)
	assert.Equal(t, []string{"Alice"}, ps.Players)
	assert.Equal(t, 0, *ps.CurrentPlayerIndex)

	room, _ := rec.subscribedRoom("c1")
	assert.Equal(t, "AB12", room)

	// 空名稱加入，換成隨機名稱
	mustProcess(t, d, internal.Join{ConnID: "c2", Name: "", RoomCode: "ab12"})
	events = rec.take()
	reg = ofType(events, internal.EventRegistered)
	require.Len(t, reg, 1)
	second := reg[0].event.Data.(internal.Registered).PlayerName
	assert.NotEmpty(t, second)
	ps = ofType(events, internal.EventPlayers)[0].event.Data.(internal.PlayersState)
	assert.Equal(t, []string{"Alice", second}, ps.Players)

	// Alice 把 5 號牌拖到空白處
	mustProcess(t, d, internal.MoveCard{ConnID: "c1", CardID: table.DealableID(5), DX: 600, DY: 600})
	events = rec.take()

	deltas := ofType(events, internal.EventCardDelta)
	require.Len(t, deltas, 1)
	delta := deltas[0].event.Data.(internal.CardDelta)
	assert.Equal(t, table.DealableID(5), delta.ID)
	assert.True(t, delta.Card.Freed)
	assert.Equal(t, "Alice", delta.MovedBy)
	assert.Equal(t, "Alice", delta.ActivePlayer)

	reorders := ofType(events, internal.EventReorder)
	require.Len(t, reorders, 1)
	assert.Equal(t, table.Reorder{From: 5, To: 51}, reorders[0].event.Data)

	// 放開：翻牌、換人、落到最底層
	r, err := d.Manager().Get("AB12")
	require.NoError(t, err)
	want := r.Table().Assignment()[table.DealableID(5)]

	mustProcess(t, d, internal.ReleaseCard{ConnID: "c1", CardID: table.DealableID(5)})
	events = rec.take()

	reveals := ofType(events, internal.EventReveal)
	require.Len(t, reveals, 1)
	assert.Equal(t, internal.Reveal{ID: table.DealableID(5), Rank: want.Rank, Suit: want.Suit}, reveals[0].event.Data)

	delta = ofType(events, internal.EventCardDelta)[0].event.Data.(internal.CardDelta)
	assert.False(t, delta.Card.Freed)
	require.NotNil(t, delta.Card.Rank)
	assert.Equal(t, want.Rank, *delta.Card.Rank)
	assert.Equal(t, second, delta.ActivePlayer)

	assert.Equal(t, table.Reorder{From: 51, To: 0}, ofType(events, internal.EventReorder)[0].event.Data)

	ps = ofType(events, internal.EventPlayers)[0].event.Data.(internal.PlayersState)
	assert.Equal(t, 1, *ps.CurrentPlayerIndex)

	// Alice 斷線後在寬限期內重連
	mustProcess(t, d, internal.Disconnect{ConnID: "c1"})
	require.Len(t, sched.pending(), 1)
	_, subscribed := rec.subscribedRoom("c1")
	assert.False(t, subscribed)

	mustProcess(t, d, internal.Join{ConnID: "c3", Name: "Alice", RoomCode: "AB12"})
	events = rec.take()
	assert.Empty(t, sched.pending(), "重連應取消移除")

	players = ofType(events, internal.EventPlayers)
	require.Len(t, players, 1)
	assert.Equal(t, internal.ConnID("c3"), players[0].conn, "重連只送給自己")
	ps = players[0].event.Data.(internal.PlayersState)
	assert.Equal(t, []string{"Alice", second}, ps.Players)
	assert.Equal(t, 1, *ps.CurrentPlayerIndex)

	// 已翻開的牌在 full-table 中帶有點數花色
	cards := ofType(events, internal.EventFullTable)[0].event.Data.([]table.Card)
	assert.Equal(t, table.DealableID(5), cards[0].ID)
	assert.True(t, cards[0].Revealed())
}

// TestDispatcher_Errors 單一指令失敗不影響之後的指令
func TestDispatcher_Errors(t *testing.T) {
	t.Run("unknown card is dropped", func(t *testing.T) {
		d, rec, _ := newTestDispatcher(t, testGameConfig())
		mustProcess(t, d, internal.Join{ConnID: "c1", Name: "Alice"})
		rec.take()

		err := d.Process(internal.MoveCard{ConnID: "c1", CardID: "99", DX: 1})
		assert.ErrorIs(t, err, table.ErrUnknownCard)
		err = d.Process(internal.ReleaseCard{ConnID: "c1", CardID: "rules9"})
		assert.ErrorIs(t, err, table.ErrUnknownCard)
		assert.Empty(t, rec.take())

		mustProcess(t, d, internal.MoveCard{ConnID: "c1", CardID: table.DealableID(0), DX: 1})
		assert.Len(t, ofType(rec.take(), internal.EventCardDelta), 1)
	})

	t.Run("commands before join", func(t *testing.T) {
		d, _, _ := newTestDispatcher(t, testGameConfig())

		assert.ErrorIs(t, d.Process(internal.MoveCard{ConnID: "x"}), internal.ErrNotJoined)
		assert.ErrorIs(t, d.Process(internal.ReleaseCard{ConnID: "x"}), internal.ErrNotJoined)
		assert.ErrorIs(t, d.Process(internal.Rename{ConnID: "x", Name: "a"}), internal.ErrNotJoined)
		assert.NoError(t, d.Process(internal.Disconnect{ConnID: "x"}))
	})

	t.Run("require existing room", func(t *testing.T) {
		d, rec, _ := newTestDispatcher(t, testGameConfig())

		mustProcess(t, d, internal.Join{ConnID: "c1", Name: "Alice", RoomCode: "zzzzz", RequireExisting: true})
		events := rec.take()
		require.Len(t, events, 1)
		assert.Equal(t, internal.ConnID("c1"), events[0].conn)
		assert.Equal(t, internal.EventRoomError, events[0].event.Type)
		assert.Equal(t, internal.RoomError{RoomCode: "ZZZZZ", Message: "game ID error"}, events[0].event.Data)
		assert.Equal(t, 0, d.Manager().Len())

		// 之後仍可正常加入
		assert.ErrorIs(t, d.Process(internal.MoveCard{ConnID: "c1"}), internal.ErrNotJoined)
		mustProcess(t, d, internal.Join{ConnID: "c1", Name: "Alice"})
		assert.Equal(t, 1, d.Manager().Len())
	})
}

// panicBroadcaster 廣播時 panic，用來檢查指令邊界
type panicBroadcaster struct{ *recorder }

func (panicBroadcaster) Publish(string, internal.Event) { panic("boom") }

func TestDispatcher_PanicRecovery(t *testing.T) {
	t.Run("recovered by default", func(t *testing.T) {
		d := internal.NewDispatcher(testGameConfig(), panicBroadcaster{newRecorder()}, testLogger(),
			internal.WithScheduler(&fakeScheduler{}))

		var err error
		assert.NotPanics(t, func() {
			err = d.Process(internal.Join{ConnID: "c1", Name: "Alice"})
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})

	t.Run("strict mode propagates", func(t *testing.T) {
		cfg := testGameConfig()
		cfg.Strict = true
		d := internal.NewDispatcher(cfg, panicBroadcaster{newRecorder()}, testLogger(),
			internal.WithScheduler(&fakeScheduler{}))

		assert.PanicsWithValue(t, "boom", func() {
			_ = d.Process(internal.Join{ConnID: "c1", Name: "Alice"})
		})
	})
}

func TestDispatcher_Rename(t *testing.T) {
	d, rec, _ := newTestDispatcher(t, testGameConfig())
	mustProcess(t, d, internal.Join{ConnID: "c1", Name: "Alice", RoomCode: "R1"})
	mustProcess(t, d, internal.Join{ConnID: "c2", Name: "Bob", RoomCode: "R1"})
	rec.take()

	mustProcess(t, d, internal.Rename{ConnID: "c2", Name: "Robert"})
	events := rec.take()

	reg := ofType(events, internal.EventRegistered)
	require.Len(t, reg, 1)
	assert.Equal(t, internal.ConnID("c2"), reg[0].conn)
	assert.Equal(t, internal.Registered{PlayerName: "Robert", RoomCode: "R1"}, reg[0].event.Data)
	ps := ofType(events, internal.EventPlayers)[0].event.Data.(internal.PlayersState)
	assert.Equal(t, []string{"Alice", "Robert"}, ps.Players)

	// 改名後的移動以新名稱標記
	mustProcess(t, d, internal.MoveCard{ConnID: "c2", CardID: table.DealableID(1)})
	delta := ofType(rec.take(), internal.EventCardDelta)[0].event.Data.(internal.CardDelta)
	assert.Equal(t, "Robert", delta.MovedBy)
}

// TestDispatcher_Lifecycle 寬限期到期與空房間刪除
func TestDispatcher_Lifecycle(t *testing.T) {
	d, rec, sched := newTestDispatcher(t, testGameConfig())
	mustProcess(t, d, internal.Join{ConnID: "c1", Name: "Alice", RoomCode: "R1"})
	mustProcess(t, d, internal.Join{ConnID: "c2", Name: "Bob", RoomCode: "R1"})
	rec.take()

	// Bob 斷線且寬限期到期
	mustProcess(t, d, internal.Disconnect{ConnID: "c2"})
	mustProcess(t, d, sched.fire(sched.pending()[0]))
	ps := ofType(rec.take(), internal.EventPlayers)[0].event.Data.(internal.PlayersState)
	assert.Equal(t, []string{"Alice"}, ps.Players)

	// Alice 也離開，房間排程刪除
	mustProcess(t, d, internal.Disconnect{ConnID: "c1"})
	mustProcess(t, d, sched.fire(sched.pending()[0]))
	assert.Empty(t, ofType(rec.take(), internal.EventPlayers), "空名單不廣播")

	pending := sched.pending()
	require.Len(t, pending, 1)
	expire, ok := pending[0].cmd.(internal.ExpireRoom)
	require.True(t, ok)
	assert.Equal(t, "R1", expire.RoomID)
	assert.Equal(t, 1, d.Manager().Len())

	mustProcess(t, d, sched.fire(pending[0]))
	assert.Equal(t, 0, d.Manager().Len())

	// 房間刪除後遲到的指令被忽略
	assert.NoError(t, d.Process(internal.ExpirePlayer{RoomID: "R1", Name: "Alice", Token: 1}))
}

func TestDispatcher_RejoinSameConnection(t *testing.T) {
	d, rec, sched := newTestDispatcher(t, testGameConfig())
	mustProcess(t, d, internal.Join{ConnID: "c1", Name: "Alice", RoomCode: "R1"})
	mustProcess(t, d, internal.Join{ConnID: "c1", Name: "Alice", RoomCode: "R2"})

	room, _ := rec.subscribedRoom("c1")
	assert.Equal(t, "R2", room)
	assert.Len(t, sched.pending(), 1, "離開 R1 進入寬限期")
	assert.Equal(t, 2, d.Manager().Len())
}

// TestDispatcher_Run 經由佇列與真實計時器運作
func TestDispatcher_Run(t *testing.T) {
	cfg := testGameConfig()
	cfg.GracePeriod = 10 * time.Millisecond
	cfg.RoomExpiry = 20 * time.Millisecond

	rec := newRecorder()
	d := internal.NewDispatcher(cfg, rec, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.True(t, d.Submit(internal.Join{ConnID: "c1", Name: "Alice", RoomCode: "R1"}))

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 1, stats.Players)

	info, err := d.RoomInfo(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, info.Players)

	_, err = d.RoomInfo(ctx, "nope")
	assert.ErrorIs(t, err, internal.ErrRoomNotFound)

	require.True(t, d.Submit(internal.Disconnect{ConnID: "c1"}))
	assert.Eventually(t, func() bool {
		s, err := d.Stats(ctx)
		return err == nil && s.Rooms == 0
	}, 2*time.Second, 5*time.Millisecond, "寬限期與保留期到期後房間應被刪除")

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run 沒有結束")
	}

	assert.False(t, d.Submit(internal.Disconnect{ConnID: "c1"}))
	_, err = d.Stats(context.Background())
	assert.Error(t, err)
}

func TestDispatcher_QueryHonoursContext(t *testing.T) {
	d, _, _ := newTestDispatcher(t, testGameConfig())

	// 沒有執行 Run，查詢只能等到 ctx 逾時
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Stats(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
