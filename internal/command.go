package internal

import (
	"errors"

	"github.com/koopa0/system-design/14-card-table/internal/table"
)

var (
	// ErrRoomNotFound 房間代碼不存在
	ErrRoomNotFound = errors.New("game ID error")
	// ErrNotJoined 連接尚未加入任何房間
	ErrNotJoined = errors.New("connection has not joined a room")
	// ErrBadPayload 指令格式錯誤
	ErrBadPayload = errors.New("malformed payload")
)

// ConnID 一條客戶端連接的識別碼
type ConnID string

// Command 由調度迴圈依序處理的指令
//
// 客戶端指令與計時器到期都以 Command 表示，因此所有狀態變更只發生在同一條 goroutine。
type Command interface {
	commandName() string
}

// Join 加入或建立房間
type Join struct {
	ConnID ConnID
	Name   string
	// RoomCode 為空時建立新房間
	RoomCode string
	// RequireExisting 為 true 時房間不存在就回 room-error，不自動建立
	RequireExisting bool
}

// Rename 更改玩家名稱
type Rename struct {
	ConnID ConnID
	Name   string
}

// MoveCard 拖曳卡牌
type MoveCard struct {
	ConnID ConnID
	CardID table.CardID
	DX, DY float64
}

// ReleaseCard 放開卡牌
type ReleaseCard struct {
	ConnID ConnID
	CardID table.CardID
}

// Disconnect 連接中斷
type Disconnect struct {
	ConnID ConnID
}

// ExpirePlayer 斷線寬限期到期
//
// Token 與房間內的等待項不相符時視為已取消。
type ExpirePlayer struct {
	RoomID string
	Name   string
	Token  uint64
}

// ExpireRoom 空房間保留期到期
type ExpireRoom struct {
	RoomID string
	Token  uint64
}

type statsQuery struct {
	reply chan Stats
}

type roomQuery struct {
	code  string
	reply chan roomReply
}

type roomReply struct {
	info RoomInfo
	err  error
}

func (Join) commandName() string         { return "join" }
func (Rename) commandName() string       { return "rename" }
func (MoveCard) commandName() string     { return "move-card" }
func (ReleaseCard) commandName() string  { return "release-card" }
func (Disconnect) commandName() string   { return "disconnect" }
func (ExpirePlayer) commandName() string { return "expire-player" }
func (ExpireRoom) commandName() string   { return "expire-room" }
func (statsQuery) commandName() string   { return "stats" }
func (roomQuery) commandName() string    { return "room" }
