package table

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
)

// ErrUnknownCard 找不到指定 ID 的卡牌
var ErrUnknownCard = errors.New("unknown card")

// DeckSize 可發的標準牌數量
const DeckSize = 52

const (
	ringRadius     = CardHeight * 1.5
	angleJitter    = 0.01
	positionJitter = 30.0
	rotationJitter = 0.1
)

// RevealDistance 牌被拉離中心超過此距離才會翻開
const RevealDistance = CardHeight * 2.5

// Reorder z 軸順序變更：把 From 位置的牌抽出後插入 To（最終索引）
type Reorder struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ReleaseResult 放開卡牌的結果
type ReleaseResult struct {
	Card *Card
	// Revealed 非 nil 表示這次放開翻開了這張牌
	Revealed *Face
	// AdvanceTurn 為 true 時呼叫端必須輪到下一位玩家
	AdvanceTurn bool
	Reorder     *Reorder
}

// Options 牌桌選項
type Options struct {
	RulesCards bool
}

// Table 一個房間的牌桌
//
// cards 的索引 0 在最底層，最後一張在最上層（繪圖與點擊判定優先）。
type Table struct {
	cards []*Card
	byID  map[CardID]*Card
	faces map[CardID]Face
	rng   *rand.Rand
	opts  Options
}

// New 建立牌桌並完成發牌
func New(rng *rand.Rand, opts Options) *Table {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	t := &Table{rng: rng, opts: opts}
	t.Deal()
	return t
}

// Deal 重新排出 52 張牌的環形佈局並重洗點數花色
func (t *Table) Deal() {
	t.cards = make([]*Card, 0, DeckSize+2)
	t.byID = make(map[CardID]*Card, DeckSize+2)

	for i := 0; i < DeckSize; i++ {
		angle := float64(i)*2*math.Pi/DeckSize + t.jitter(angleJitter)
		x := math.Cos(angle)*ringRadius + t.jitter(positionJitter)
		y := math.Sin(angle)*ringRadius + t.jitter(positionJitter)
		rotation := angle + math.Pi/2 + t.jitter(rotationJitter)

		t.insert(len(t.cards), NewCard(DealableID(i), x, y, rotation))
	}

	if t.opts.RulesCards {
		t.insert(0, rulesCard(RulesCardTwo, 250, 630, 0.2))
		t.insert(0, rulesCard(RulesCardOne, -160, 580, -0.1))
	}

	faces := make([]Face, 0, DeckSize)
	for _, r := range Ranks {
		for _, s := range Suits {
			faces = append(faces, Face{Rank: r, Suit: s})
		}
	}
	t.rng.Shuffle(len(faces), func(i, j int) {
		faces[i], faces[j] = faces[j], faces[i]
	})

	t.faces = make(map[CardID]Face, DeckSize)
	for i, f := range faces {
		t.faces[DealableID(i)] = f
	}
}

func rulesCard(id CardID, x, y, rotation float64) *Card {
	c := NewCard(id, x, y, rotation)
	c.Width = rulesCardWidth
	c.Height = rulesCardHeight
	return c
}

func (t *Table) jitter(amount float64) float64 {
	return t.rng.Float64()*2*amount - amount
}

// Card 依 ID 取得卡牌
func (t *Table) Card(id CardID) (*Card, error) {
	c, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCard, id)
	}
	return c, nil
}

// Cards 依 z 軸順序回傳所有卡牌的快照
func (t *Table) Cards() []Card {
	out := make([]Card, len(t.cards))
	for i, c := range t.cards {
		out[i] = c.Snapshot()
	}
	return out
}

// Len 卡牌數量
func (t *Table) Len() int {
	return len(t.cards)
}

// IndexOf 卡牌目前的 z 軸索引，不存在回傳 -1
func (t *Table) IndexOf(id CardID) int {
	return slices.IndexFunc(t.cards, func(c *Card) bool { return c.ID == id })
}

// Face 卡牌被指定的點數花色；規則卡回傳 false
func (t *Table) Face(c *Card) (Face, bool) {
	if c.IsReserved() {
		return Face{}, false
	}
	f, ok := t.faces[c.ID]
	return f, ok
}

// Assignment 點數花色分配表的複本
func (t *Table) Assignment() map[CardID]Face {
	out := make(map[CardID]Face, len(t.faces))
	for id, f := range t.faces {
		out[id] = f
	}
	return out
}

// RevealedCount 已翻開的牌數
func (t *Table) RevealedCount() int {
	n := 0
	for _, c := range t.cards {
		if c.Revealed() {
			n++
		}
	}
	return n
}

// Move 依位移量移動卡牌
//
// 移動後若不碰到任何其他牌，卡牌被標記為 freed 並移到最上層；
// 碰到其他牌則清除 freed。非有限的位移量視為 0。
func (t *Table) Move(id CardID, dx, dy float64) (*Card, *Reorder, error) {
	c, err := t.Card(id)
	if err != nil {
		return nil, nil, err
	}

	c.X += finite(dx)
	c.Y += finite(dy)

	if t.touchesAny(c) {
		c.Freed = false
		return c, nil, nil
	}

	if !c.IsReserved() {
		c.Freed = true
	}
	return c, t.moveToTop(c), nil
}

// Release 放開卡牌
//
// 只有 freed 且離中心超過 RevealDistance 的牌才會處理：尚未翻開的牌寫入點數花色
// 並要求換人，接著把牌插回它所重疊的最上層那張牌之上（沒有重疊則放到最底層）。
// 不論結果如何 freed 都會被清除。
func (t *Table) Release(id CardID) (ReleaseResult, error) {
	c, err := t.Card(id)
	if err != nil {
		return ReleaseResult{}, err
	}

	res := ReleaseResult{Card: c}
	if c.Freed && c.DistanceFromCenter() > RevealDistance {
		if !c.Revealed() {
			if f, ok := t.Face(c); ok && c.reveal(f) {
				res.Revealed = &f
			}
			res.AdvanceTurn = true
		}
		res.Reorder = t.settle(c)
	}
	c.Freed = false
	return res, nil
}

// touchesAny 由上而下檢查是否碰到任何其他牌
func (t *Table) touchesAny(c *Card) bool {
	for i := len(t.cards) - 1; i >= 0; i-- {
		if c.Intersects(t.cards[i]) {
			return true
		}
	}
	return false
}

func (t *Table) moveToTop(c *Card) *Reorder {
	from := t.IndexOf(c.ID)
	top := len(t.cards) - 1
	if from == top {
		return nil
	}
	t.cards = slices.Delete(t.cards, from, from+1)
	t.cards = append(t.cards, c)
	return &Reorder{From: from, To: top}
}

// settle 把牌插到它重疊的最上層那張牌正上方
func (t *Table) settle(c *Card) *Reorder {
	from := t.IndexOf(c.ID)
	t.cards = slices.Delete(t.cards, from, from+1)

	to := 0
	for j := len(t.cards) - 1; j >= 0; j-- {
		if c.Intersects(t.cards[j]) {
			to = j + 1
			break
		}
	}
	t.cards = slices.Insert(t.cards, to, c)

	if from == to {
		return nil
	}
	return &Reorder{From: from, To: to}
}

func (t *Table) insert(at int, c *Card) {
	t.cards = slices.Insert(t.cards, at, c)
	t.byID[c.ID] = c
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
