package server

import "github.com/google/uuid"

// PlayerID 玩家唯一标识：连接建立时随机生成的 128 位 UUID
type PlayerID = uuid.UUID

// NewPlayerID 为新连接分配 ID
func NewPlayerID() PlayerID {
	return uuid.New()
}

func parsePlayerID(s string) (PlayerID, error) {
	return uuid.Parse(s)
}

// Player 玩家生命周期状态（目前只有 Active 一种）
type Player interface {
	Position() (x, y float32)
	isPlayer()
}

// Active 在线玩家及其二维坐标
type Active struct {
	X float32
	Y float32
}

func (a Active) Position() (float32, float32) { return a.X, a.Y }

func (Active) isPlayer() {}

// move 返回移动后的新状态；新增状态时在这里决定是否允许移动
func move(p Player, x, y float32) Player {
	switch p.(type) {
	case Active:
		return Active{X: x, Y: y}
	default:
		return p
	}
}
