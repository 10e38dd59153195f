package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// ErrPlayerNotFound 更新了不存在（尚未加入或已离开）的玩家
var ErrPlayerNotFound = errors.New("player not found")

// World 权威世界状态：玩家 ID -> 玩家
// 只由 Tick 协程读写，本身不加锁
type World struct {
	players map[PlayerID]Player
}

// NewWorld 创建空世界
func NewWorld() *World {
	return &World{players: make(map[PlayerID]Player)}
}

// AddPlayer 在 (0, 0) 放入玩家；ID 已存在时覆盖
func (w *World) AddPlayer(id PlayerID) {
	w.players[id] = Active{}
}

// RemovePlayer 移除玩家，不存在时什么也不做
func (w *World) RemovePlayer(id PlayerID) {
	delete(w.players, id)
}

// UpdatePosition 设置玩家坐标
func (w *World) UpdatePosition(id PlayerID, x, y float32) error {
	p, ok := w.players[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, id)
	}
	w.players[id] = move(p, x, y)
	return nil
}

// Player 查询单个玩家
func (w *World) Player(id PlayerID) (Player, bool) {
	p, ok := w.players[id]
	return p, ok
}

func (w *World) Len() int { return len(w.players) }

// ApplyIntents 按入队顺序应用意图。
// 某条意图失败时跳过它继续处理其余意图，返回合并后的全部错误。
func (w *World) ApplyIntents(intents []Intent) error {
	var errs error
	for _, in := range intents {
		switch it := in.(type) {
		case AddPlayer:
			w.AddPlayer(it.ID)
		case RemovePlayer:
			w.RemovePlayer(it.ID)
		case UpdatePlayerPosition:
			errs = multierr.Append(errs, w.UpdatePosition(it.ID, it.X, it.Y))
		default:
			errs = multierr.Append(errs, fmt.Errorf("unknown intent %T", in))
		}
	}
	return errs
}

// Serialize 输出快照文本：{"<uuid>":[x,y],...}
// 键按字典序输出，保证相同状态得到相同字节；编码失败时退化为 {}
func (w *World) Serialize() []byte {
	out := make(map[string][2]float32, len(w.players))
	for id, p := range w.players {
		x, y := p.Position()
		out[id.String()] = [2]float32{x, y}
	}
	b, err := json.Marshal(out)
	if err != nil {
		Log.Errorf("serialize world: %v", err)
		return []byte("{}")
	}
	return b
}

// DecodeSnapshot 解析快照文本，供客户端与测试使用
func DecodeSnapshot(b []byte) (map[PlayerID][2]float32, error) {
	var raw map[string][2]float32
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[PlayerID][2]float32, len(raw))
	for k, v := range raw {
		id, err := parsePlayerID(k)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}
