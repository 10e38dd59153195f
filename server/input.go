package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedPosition 入站数据无法解析为 [x, y]
var ErrMalformedPosition = errors.New("malformed position")

// Intent 待 Tick 应用的状态变更意图，只有三种：AddPlayer / RemovePlayer / UpdatePlayerPosition
type Intent interface {
	Player() PlayerID
	isIntent()
}

// AddPlayer 连接建立时入队
type AddPlayer struct {
	ID PlayerID
}

// RemovePlayer 连接关闭时入队
type RemovePlayer struct {
	ID PlayerID
}

// UpdatePlayerPosition 客户端上报的新坐标
type UpdatePlayerPosition struct {
	ID PlayerID
	X  float32
	Y  float32
}

func (i AddPlayer) Player() PlayerID            { return i.ID }
func (i RemovePlayer) Player() PlayerID         { return i.ID }
func (i UpdatePlayerPosition) Player() PlayerID { return i.ID }

func (AddPlayer) isIntent()            {}
func (RemovePlayer) isIntent()         {}
func (UpdatePlayerPosition) isIntent() {}

// ParsePosition 将一条入站消息解析为坐标
// 格式：UTF-8 JSON 数组，恰好两个有限浮点数，如 [1.5,-2.0]
func ParsePosition(payload []byte) (float32, float32, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return 0, 0, fmt.Errorf("%w: empty payload", ErrMalformedPosition)
	}
	// null 元素解码为 nil 指针，而不是静默的 0
	var pair []*float32
	if err := json.Unmarshal(payload, &pair); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedPosition, err)
	}
	if len(pair) != 2 {
		return 0, 0, fmt.Errorf("%w: want 2 elements, got %d", ErrMalformedPosition, len(pair))
	}
	if pair[0] == nil || pair[1] == nil {
		return 0, 0, fmt.Errorf("%w: null coordinate", ErrMalformedPosition)
	}
	x, y := *pair[0], *pair[1]
	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("%w: non-finite coordinate", ErrMalformedPosition)
	}
	return x, y, nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
