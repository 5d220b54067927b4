package internal_test

import (
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-card-table/internal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func testGameConfig() internal.GameConfig {
	cfg := internal.Defaults().Game
	cfg.RulesCards = false
	return cfg
}

// scheduled 一筆假計時器
type scheduled struct {
	delay   time.Duration
	cmd     internal.Command
	stopped bool
	fired   bool
}

// fakeScheduler 記錄排程，由測試決定何時觸發
type fakeScheduler struct {
	mu    sync.Mutex
	items []*scheduled
}

func (s *fakeScheduler) Schedule(d time.Duration, cmd internal.Command) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := &scheduled{delay: d, cmd: cmd}
	s.items = append(s.items, item)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if item.stopped || item.fired {
			return false
		}
		item.stopped = true
		return true
	}
}

// pending 尚未停止也尚未觸發的排程
func (s *fakeScheduler) pending() []*scheduled {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*scheduled
	for _, item := range s.items {
		if !item.stopped && !item.fired {
			out = append(out, item)
		}
	}
	return out
}

// fire 觸發排程並回傳對應指令
func (s *fakeScheduler) fire(item *scheduled) internal.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.fired = true
	return item.cmd
}

// sent 一筆送出的事件
type sent struct {
	conn  internal.ConnID
	room  string
	event internal.Event
}

// recorder 記錄所有推送的 Broadcaster
type recorder struct {
	mu     sync.Mutex
	events []sent
	subs   map[internal.ConnID]string
}

func newRecorder() *recorder {
	return &recorder{subs: make(map[internal.ConnID]string)}
}

func (r *recorder) Send(conn internal.ConnID, ev internal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{conn: conn, event: ev})
}

func (r *recorder) Publish(roomID string, ev internal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, sent{room: roomID, event: ev})
}

func (r *recorder) Subscribe(conn internal.ConnID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[conn] = roomID
}

func (r *recorder) Unsubscribe(conn internal.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, conn)
}

// take 取出並清空目前記錄的事件
func (r *recorder) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func ofType(events []sent, typ string) []sent {
	var out []sent
	for _, e := range events {
		if e.event.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) subscribedRoom(conn internal.ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.subs[conn]
	return room, ok
}
