package table

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// 標準卡牌尺寸
const (
	CardWidth  = 154.0
	CardHeight = 214.0
)

// 規則卡：固定位置，不參與發牌、翻牌，也不會被標記為 freed
const (
	RulesCardOne CardID = "rules1"
	RulesCardTwo CardID = "rules2"

	rulesCardWidth  = 426.0
	rulesCardHeight = 354.0
)

// Rank 牌面點數
type Rank string

// Suit 花色
type Suit string

// Ranks 與 Suits 的笛卡兒積就是一副 52 張的牌
var (
	Ranks = []Rank{"2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K", "A"}
	Suits = []Suit{"C", "D", "H", "S"}
)

// Face 一張牌隱藏的點數與花色
type Face struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

// CardID 卡牌識別碼
//
// 標準牌是 "0" 到 "51"，JSON 以數字表示；規則卡是非數字字串。
type CardID string

// DealableID 第 i 張標準牌的 ID
func DealableID(i int) CardID {
	return CardID(strconv.Itoa(i))
}

// Index 標準牌的序號；規則卡回傳 false
func (id CardID) Index() (int, bool) {
	n, err := strconv.Atoi(string(id))
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarshalJSON 標準牌輸出為數字，其餘輸出為字串
func (id CardID) MarshalJSON() ([]byte, error) {
	if n, ok := id.Index(); ok {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON 接受整數或字串
func (id *CardID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = CardID(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("無效的卡牌 ID %s: %w", data, err)
	}
	if f != math.Trunc(f) {
		return fmt.Errorf("無效的卡牌 ID %s", data)
	}
	*id = DealableID(int(f))
	return nil
}

// Card 牌桌上的一張牌
//
// Rank 與 Suit 在翻牌前為 nil，設定後不再清除。
type Card struct {
	ID       CardID  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Freed    bool    `json:"freed"`
	Rank     *Rank   `json:"rank"`
	Suit     *Suit   `json:"suit"`
}

// NewCard 建立標準尺寸的卡牌
func NewCard(id CardID, x, y, rotation float64) *Card {
	return &Card{
		ID:       id,
		X:        x,
		Y:        y,
		Rotation: rotation,
		Width:    CardWidth,
		Height:   CardHeight,
	}
}

// Rect 卡牌目前佔據的矩形
//
// 與繪圖端一致，落在 π/2 整數倍的旋轉角會被永久偏移。
func (c *Card) Rect() Rect {
	c.Rotation = Stabilize(c.Rotation)
	return Rect{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height, Rotation: c.Rotation}
}

// ContainsPoint 點是否落在卡牌內
func (c *Card) ContainsPoint(x, y float64) bool {
	return c.Rect().Contains(x, y)
}

// Intersects 與另一張牌是否重疊；同一張牌永遠回傳 false
func (c *Card) Intersects(other *Card) bool {
	if other == nil || c.ID == other.ID {
		return false
	}
	return Intersects(c.Rect(), other.Rect())
}

// DistanceFromCenter 到桌面中心的距離
func (c *Card) DistanceFromCenter() float64 {
	return math.Sqrt(c.X*c.X + c.Y*c.Y)
}

// IsReserved 是否為規則卡
func (c *Card) IsReserved() bool {
	_, ok := c.ID.Index()
	return !ok
}

// Revealed 是否已翻開
func (c *Card) Revealed() bool {
	return c.Rank != nil && c.Suit != nil
}

// reveal 寫入點數與花色，已翻開的牌不會被覆寫
func (c *Card) reveal(f Face) bool {
	if c.Revealed() {
		return false
	}
	rank, suit := f.Rank, f.Suit
	c.Rank = &rank
	c.Suit = &suit
	return true
}

// Snapshot 複製目前狀態供廣播使用
func (c *Card) Snapshot() Card {
	return *c
}
