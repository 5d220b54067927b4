package internal

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/koopa0/system-design/14-card-table/internal/table"
)

// 系統設計問題：
//   玩家斷線時如何保留座位，又如何在所有人離開後回收房間？
//
// 設計方案：
//   - 房間只由調度迴圈存取，不需要鎖
//   - 斷線不會立即移除玩家，而是排程一個 ExpirePlayer 指令
//   - 每個排程都帶 token，重連時取消並丟棄 token，遲到的到期指令會被忽略
//
// 玩家狀態：
//
//	absent → active → grace → absent
//	                    ↓
//	                  active（重連）

// Scheduler 在延遲之後把指令送回調度迴圈
//
// stop 回傳 false 表示計時器已經觸發或已被停止。
type Scheduler interface {
	Schedule(d time.Duration, cmd Command) (stop func() bool)
}

// RoomOptions 房間參數
type RoomOptions struct {
	GracePeriod    time.Duration
	MaxNameRetries int
	RulesCards     bool
	// Scheduler 必填
	Scheduler Scheduler
	// Rand 為 nil 時使用隨機種子
	Rand *rand.Rand
}

type pendingTimer struct {
	token uint64
	stop  func() bool
}

// Room 一局遊戲
//
// 玩家名單的順序就是輪流順序；寬限期內的玩家仍保有原本的位置。
type Room struct {
	ID        string
	CreatedAt time.Time

	table    *table.Table
	players  []string
	current  int
	inactive map[string]pendingTimer
	tokens   uint64
	opts     RoomOptions
	rng      *rand.Rand
}

// NewRoom 建立房間並發牌
func NewRoom(id string, opts RoomOptions) *Room {
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.MaxNameRetries <= 0 {
		opts.MaxNameRetries = 16
	}
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		table:     table.New(opts.Rand, table.Options{RulesCards: opts.RulesCards}),
		inactive:  make(map[string]pendingTimer),
		opts:      opts,
		rng:       opts.Rand,
	}
}

// Table 房間的牌桌
func (r *Room) Table() *table.Table {
	return r.table
}

// AddPlayer 加入玩家
//
// 名稱正處於寬限期時視為重連：取消移除計時器並保留原本的位置。
// 否則清理名稱後加到名單最後。
func (r *Room) AddPlayer(name string) (playerName string, reconnected bool) {
	if p, ok := r.inactive[name]; ok {
		p.stop()
		delete(r.inactive, name)
		return name, true
	}

	name = r.sanitize(name, -1)
	r.players = append(r.players, name)
	return name, false
}

// DisconnectPlayer 開始寬限期；不在名單或已在寬限期時回傳 false
func (r *Room) DisconnectPlayer(name string) bool {
	if !r.HasPlayer(name) {
		return false
	}
	if _, pending := r.inactive[name]; pending {
		return false
	}

	r.tokens++
	token := r.tokens
	stop := r.opts.Scheduler.Schedule(r.opts.GracePeriod, ExpirePlayer{
		RoomID: r.ID,
		Name:   name,
		Token:  token,
	})
	r.inactive[name] = pendingTimer{token: token, stop: stop}
	return true
}

// ExpirePlayer 寬限期到期，移除玩家
//
// 原本的輪次索引直接對新名單長度取模。
//
// token 不符（已重連或已被處理）時不做任何事並回傳 false。
func (r *Room) ExpirePlayer(name string, token uint64) bool {
	p, ok := r.inactive[name]
	if !ok || p.token != token {
		return false
	}
	delete(r.inactive, name)

	i := slices.Index(r.players, name)
	if i < 0 {
		return false
	}
	r.players = slices.Delete(r.players, i, i+1)

	if len(r.players) == 0 {
		r.current = 0
	} else {
		r.current %= len(r.players)
	}
	return true
}

// IsInactive 玩家是否在寬限期內
func (r *Room) IsInactive(name string) bool {
	_, ok := r.inactive[name]
	return ok
}

// ChangeName 在原位置換成清理過的新名稱
//
// old 不在名單時回傳 false。
func (r *Room) ChangeName(old, name string) (string, bool) {
	i := slices.Index(r.players, old)
	if i < 0 {
		return old, false
	}
	name = r.sanitize(name, i)
	r.players[i] = name
	return name, true
}

// SanitizeName 空字串換成隨機名稱，重複時加上稱號直到不重複
func (r *Room) SanitizeName(name string) string {
	return r.sanitize(name, -1)
}

// sanitize 與 skip 以外的名單比對
func (r *Room) sanitize(name string, skip int) string {
	if name == "" {
		name = r.randomName()
	}

	taken := func(n string) bool {
		for i, p := range r.players {
			if i != skip && p == n {
				return true
			}
		}
		return false
	}

	candidate := name
	for range r.opts.MaxNameRetries {
		if !taken(candidate) {
			return candidate
		}
		candidate += nameEndings[r.rng.IntN(len(nameEndings))]
	}

	// 稱號用完仍重複時改用編號，名單有限所以必定結束
	for n := 2; ; n++ {
		candidate = fmt.Sprintf("%s %d", name, n)
		if !taken(candidate) {
			return candidate
		}
	}
}

func (r *Room) randomName() string {
	return nameAdjectives[r.rng.IntN(len(nameAdjectives))] + " " + nameNouns[r.rng.IntN(len(nameNouns))]
}

// HasPlayer 名稱是否在名單中（包含寬限期）
func (r *Room) HasPlayer(name string) bool {
	return slices.Contains(r.players, name)
}

// NextTurn 輪到下一位；名單為空時不動
func (r *Room) NextTurn() {
	if len(r.players) == 0 {
		return
	}
	r.current = (r.current + 1) % len(r.players)
}

// Players 名單與輪次快照
func (r *Room) Players() PlayersState {
	if len(r.players) == 0 {
		return PlayersState{}
	}
	idx := r.current % len(r.players)
	return PlayersState{
		Players:            slices.Clone(r.players),
		CurrentPlayerIndex: &idx,
	}
}

// ActivePlayer 目前輪到的玩家；名單為空時回傳空字串
func (r *Room) ActivePlayer() string {
	if len(r.players) == 0 {
		return ""
	}
	return r.players[r.current%len(r.players)]
}

// PlayerCount 名單人數
func (r *Room) PlayerCount() int {
	return len(r.players)
}

// IsEmpty 名單是否為空
func (r *Room) IsEmpty() bool {
	return len(r.players) == 0
}

// MoveCard 移動卡牌
func (r *Room) MoveCard(id table.CardID, dx, dy float64) (*table.Card, *table.Reorder, error) {
	return r.table.Move(id, dx, dy)
}

// ReleaseCard 放開卡牌，第一次成功翻牌時換下一位
func (r *Room) ReleaseCard(id table.CardID) (table.ReleaseResult, error) {
	res, err := r.table.Release(id)
	if err != nil {
		return res, err
	}
	if res.AdvanceTurn {
		r.NextTurn()
	}
	return res, nil
}

// Close 停止所有寬限期計時器
func (r *Room) Close() {
	for name, p := range r.inactive {
		p.stop()
		delete(r.inactive, name)
	}
}

var nameAdjectives = []string{
	"Cool", "Silly", "Big", "Lil'", "King", "Queen", "Sir", "Smelly", "Hot",
	"Sexy", "Tiny", "Funny", "Giggly", "Bougie", "Sour", "Fuzzy", "Cuddly",
	"Strong", "Long", "Wrinkly", "Silky", "Soft", "Grumpy", "Crusty", "Handsome",
	"Classy", "Nasty", "Moody", "Dehydrated", "Hungry", "Danger", "Boople",
}

var nameNouns = []string{
	"Goose", "Bear", "Bae", "Sock", "Spoon", "Candle", "Banana", "Tiger",
	"Toad", "Lemon", "Basket", "Horse", "Butterfly", "Slug", "Flower",
	"Cat", "Sky", "Moose", "Leopard", "Seal", "Peach", "Diamond", "Mochi",
	"Cupcake", "Bagel", "Donut", "Cactus", "Muffin", "Puffin", "Noodle", "Snoot",
}

var nameEndings = []string{
	", PhD", " II", ", MD", " Sr.", " Jr.", ", JD", " the Great",
}
