package internal

import "github.com/koopa0/system-design/14-card-table/internal/table"

// 伺服器推送的事件名稱
const (
	EventRegistered = "registered"
	EventFullTable  = "full-table"
	EventCardDelta  = "card-delta"
	EventReorder    = "reorder"
	EventReveal     = "reveal"
	EventPlayers    = "players"
	EventRoomError  = "room-error"
)

// Event 推送給客戶端的訊息
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// Registered 加入或改名完成
type Registered struct {
	PlayerName string `json:"playerName"`
	RoomCode   string `json:"roomCode"`
}

// CardDelta 單張牌的狀態
//
// 拖曳者本人應忽略其中的座標，但仍要套用 freed、rank、suit。
type CardDelta struct {
	ID           table.CardID `json:"id"`
	Card         table.Card   `json:"card"`
	MovedBy      string       `json:"movedBy"`
	ActivePlayer string       `json:"activePlayer,omitempty"`
}

// Reveal 翻牌結果
type Reveal struct {
	ID   table.CardID `json:"id"`
	Rank table.Rank   `json:"rank"`
	Suit table.Suit   `json:"suit"`
}

// PlayersState 玩家名單與目前輪到的索引；名單為空時兩者皆為 null
type PlayersState struct {
	Players            []string `json:"players"`
	CurrentPlayerIndex *int     `json:"currentPlayerIndex"`
}

// RoomError 加入指定房間失敗
type RoomError struct {
	RoomCode string `json:"roomCode"`
	Message  string `json:"message"`
}
