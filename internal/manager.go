package internal

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

// roomCodeAlphabet 房間代碼字元集：沒有 0 與 O
const roomCodeAlphabet = "123456789JABCDEFGHIKLMNPQRSTUVWXYZ"

// Manager 房間註冊表
//
// 只能由調度迴圈呼叫。房間清空後排程 ExpireRoom，在保留期內有人加入就取消。
type Manager struct {
	rooms     map[string]*Room
	deletions map[string]pendingTimer
	tokens    uint64

	cfg       GameConfig
	scheduler Scheduler
	rng       *rand.Rand
	logger    *slog.Logger
}

// Stats 伺服器統計
type Stats struct {
	Rooms            int `json:"total_rooms"`
	Players          int `json:"total_players"`
	InactivePlayers  int `json:"inactive_players"`
	PendingDeletions int `json:"pending_deletions"`
	Connections      int `json:"connections"`
}

// RoomInfo 單一房間的摘要
type RoomInfo struct {
	Code               string    `json:"room_code"`
	Players            []string  `json:"players"`
	CurrentPlayerIndex *int      `json:"current_player_index"`
	ActivePlayer       string    `json:"active_player"`
	Cards              int       `json:"cards"`
	Revealed           int       `json:"revealed"`
	PendingDeletion    bool      `json:"pending_deletion"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewManager 建立註冊表
func NewManager(cfg GameConfig, scheduler Scheduler, rng *rand.Rand, logger *slog.Logger) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Manager{
		rooms:     make(map[string]*Room),
		deletions: make(map[string]pendingTimer),
		cfg:       cfg,
		scheduler: scheduler,
		rng:       rng,
		logger:    logger.With("component", "manager"),
	}
}

// NormalizeCode 房間代碼一律大寫
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Get 依代碼取得房間
func (m *Manager) Get(code string) (*Room, error) {
	code = NormalizeCode(code)
	room, ok := m.rooms[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, code)
	}
	return room, nil
}

// ResolveOrCreate 找到要加入的房間
//
// 房間存在就回傳並取消待刪除；不存在時 requireExisting 為 true 回傳
// ErrRoomNotFound，否則用指定代碼（空字串則產生新代碼）建立房間。
func (m *Manager) ResolveOrCreate(code string, requireExisting bool) (room *Room, created bool, err error) {
	code = NormalizeCode(code)

	if room, ok := m.rooms[code]; ok && code != "" {
		m.CancelDeletion(code)
		return room, false, nil
	}
	if requireExisting {
		return nil, false, fmt.Errorf("%w: %q", ErrRoomNotFound, code)
	}

	if code == "" {
		code = m.GenerateCode()
	}
	room = NewRoom(code, RoomOptions{
		GracePeriod:    m.cfg.GracePeriod,
		MaxNameRetries: m.cfg.MaxNameRetries,
		RulesCards:     m.cfg.RulesCards,
		Scheduler:      m.scheduler,
		Rand:           rand.New(rand.NewPCG(m.rng.Uint64(), m.rng.Uint64())),
	})
	m.rooms[code] = room

	m.logger.Info("房間已創建", "room_code", code, "total_rooms", len(m.rooms))
	return room, true, nil
}

// GenerateCode 產生目前未被使用的房間代碼
func (m *Manager) GenerateCode() string {
	n := m.cfg.RoomCodeLength
	if n <= 0 {
		n = 5
	}
	b := make([]byte, n)
	for {
		for i := range b {
			b[i] = roomCodeAlphabet[m.rng.IntN(len(roomCodeAlphabet))]
		}
		if _, taken := m.rooms[string(b)]; !taken {
			return string(b)
		}
	}
}

// ScheduleDeletion 排程刪除空房間；已排程時不重複
func (m *Manager) ScheduleDeletion(code string) {
	if _, pending := m.deletions[code]; pending {
		return
	}
	m.tokens++
	token := m.tokens
	stop := m.scheduler.Schedule(m.cfg.RoomExpiry, ExpireRoom{RoomID: code, Token: token})
	m.deletions[code] = pendingTimer{token: token, stop: stop}

	m.logger.Debug("房間排程刪除", "room_code", code, "after", m.cfg.RoomExpiry)
}

// CancelDeletion 取消待刪除；沒有排程時回傳 false
func (m *Manager) CancelDeletion(code string) bool {
	p, ok := m.deletions[code]
	if !ok {
		return false
	}
	p.stop()
	delete(m.deletions, code)
	m.logger.Debug("取消刪除房間", "room_code", code)
	return true
}

// ExpireRoom 保留期到期，刪除房間
//
// token 不符或房間又有玩家時不刪除。
func (m *Manager) ExpireRoom(code string, token uint64) bool {
	p, ok := m.deletions[code]
	if !ok || p.token != token {
		return false
	}
	delete(m.deletions, code)

	room, ok := m.rooms[code]
	if !ok || !room.IsEmpty() {
		return false
	}
	room.Close()
	delete(m.rooms, code)

	m.logger.Info("房間已刪除", "room_code", code, "total_rooms", len(m.rooms))
	return true
}

// PendingDeletion 房間是否在等待刪除
func (m *Manager) PendingDeletion(code string) bool {
	_, ok := m.deletions[NormalizeCode(code)]
	return ok
}

// Len 房間數量
func (m *Manager) Len() int {
	return len(m.rooms)
}

// Stats 統計資訊
func (m *Manager) Stats() Stats {
	s := Stats{
		Rooms:            len(m.rooms),
		PendingDeletions: len(m.deletions),
	}
	for _, room := range m.rooms {
		s.Players += room.PlayerCount()
		s.InactivePlayers += len(room.inactive)
	}
	return s
}

// Info 房間摘要
func (m *Manager) Info(code string) (RoomInfo, error) {
	room, err := m.Get(code)
	if err != nil {
		return RoomInfo{}, err
	}
	p := room.Players()
	return RoomInfo{
		Code:               room.ID,
		Players:            p.Players,
		CurrentPlayerIndex: p.CurrentPlayerIndex,
		ActivePlayer:       room.ActivePlayer(),
		Cards:              room.Table().Len(),
		Revealed:           room.Table().RevealedCount(),
		PendingDeletion:    m.PendingDeletion(room.ID),
		CreatedAt:          room.CreatedAt,
	}, nil
}

// Close 停止所有計時器並清空註冊表
func (m *Manager) Close() {
	for code, p := range m.deletions {
		p.stop()
		delete(m.deletions, code)
	}
	for code, room := range m.rooms {
		room.Close()
		delete(m.rooms, code)
	}
	m.logger.Info("房間管理器已停止")
}
