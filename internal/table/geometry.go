// Package table 實作單一房間的牌桌：旋轉矩形幾何、卡牌狀態與 z 軸堆疊規則。
//
// 座標原點在桌面中心，旋轉以弧度表示。寬度沿 x 軸、高度沿 y 軸（旋轉前）。
// 本套件的型別都不是併發安全的，呼叫端必須保證同一張牌桌只被一個 goroutine 操作。
package table

import "math"

// rotationNudge 旋轉角剛好是 π/2 的整數倍時加上的微小偏移，避免邊線斜率無窮大。
const rotationNudge = 0.01

// Point 平面上的點
type Point struct {
	X float64
	Y float64
}

// Rect 以中心點、寬高與旋轉角定義的矩形
type Rect struct {
	X        float64
	Y        float64
	Width    float64
	Height   float64
	Rotation float64
}

// Edges 矩形的四個角與兩條邊線斜率
//
// Rotation 是實際用來計算的旋轉角（可能已經過 Stabilize 偏移）。
type Edges struct {
	P1, P2, P3, P4 Point
	Slope1         float64
	Slope2         float64
	Rotation       float64
}

// Stabilize 旋轉角為 π/2 的整數倍時回傳偏移後的角度，否則原樣回傳。
func Stabilize(rotation float64) float64 {
	q := 2 * rotation / math.Pi
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return rotation
	}
	if q == math.Trunc(q) {
		return rotation + rotationNudge
	}
	return rotation
}

// EdgesOf 計算矩形的四個角與斜率
func EdgesOf(r Rect) Edges {
	rot := Stabilize(r.Rotation)
	sin, cos := math.Sincos(rot)

	a := r.Height * cos
	b := r.Width * sin
	c := r.Width * cos
	d := r.Height * sin

	return Edges{
		P1:       Point{X: r.X - (c+d)/2, Y: r.Y + (a-b)/2},
		P2:       Point{X: r.X - (d-c)/2, Y: r.Y + (a+b)/2},
		P3:       Point{X: r.X + (c+d)/2, Y: r.Y - (a-b)/2},
		P4:       Point{X: r.X + (d-c)/2, Y: r.Y - (a+b)/2},
		Slope1:   b / c,
		Slope2:   a / d,
		Rotation: rot,
	}
}

// Center 由對角線中點推得的中心
func (e Edges) Center() Point {
	return Point{X: (e.P1.X + e.P3.X) / 2, Y: (e.P1.Y + e.P3.Y) / 2}
}

// Samples 重疊判定使用的取樣點：四個角加中心
func (e Edges) Samples() [5]Point {
	return [5]Point{e.P1, e.P2, e.P3, e.P4, e.Center()}
}

// Contains 點是否嚴格落在矩形內部
//
// 用兩組平行邊線切出四個半平面，依 sin/cos 的正負號修正不等式方向。
func (r Rect) Contains(px, py float64) bool {
	e := EdgesOf(r)

	l1 := px*e.Slope1 - e.P1.X*e.Slope1 + e.P1.Y
	l2 := -px*e.Slope2 + e.P3.X*e.Slope2 + e.P3.Y
	l3 := -px*e.Slope2 + e.P1.X*e.Slope2 + e.P1.Y
	l4 := px*e.Slope1 - e.P3.X*e.Slope1 + e.P3.Y

	s1 := sign(math.Sin(e.Rotation))
	s2 := sign(math.Cos(e.Rotation))

	return s2*py < s2*l1 &&
		s1*py < s1*l2 &&
		s1*py > s1*l3 &&
		s2*py > s2*l4
}

// Intersects 粗略的重疊判定
//
// 只檢查 b 的四角與中心是否落在 a 內，以及反過來 a 的取樣點是否落在 b 內。
// 兩條細長矩形交叉而取樣點都在外側時會判定為不重疊，這是刻意保留的行為。
func Intersects(a, b Rect) bool {
	for _, p := range EdgesOf(b).Samples() {
		if a.Contains(p.X, p.Y) {
			return true
		}
	}
	for _, p := range EdgesOf(a).Samples() {
		if b.Contains(p.X, p.Y) {
			return true
		}
	}
	return false
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
