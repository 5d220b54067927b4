package internal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/koopa0/system-design/14-card-table/internal/table"
)

// 客戶端指令名稱
const (
	CommandJoin        = "join"
	CommandRename      = "rename"
	CommandMoveCard    = "move-card"
	CommandReleaseCard = "release-card"
)

// Envelope 客戶端送來的訊息
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinPayload struct {
	Name            json.RawMessage `json:"name"`
	RoomCode        json.RawMessage `json:"roomCode"`
	GameID          json.RawMessage `json:"gameID"`
	RequireExisting bool            `json:"requireExisting"`
}

type movePayload struct {
	ID *table.CardID `json:"id"`
	DX float64       `json:"dx"`
	DY float64       `json:"dy"`
}

type releasePayload struct {
	ID *table.CardID `json:"id"`
}

// ParseCommand 把一則文字訊息轉成指令
//
// 名稱欄位不是字串時視為空字串（之後會換成隨機名稱），其他格式錯誤回傳 ErrBadPayload。
func ParseCommand(conn ConnID, message []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch env.Type {
	case CommandJoin:
		var p joinPayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		code := stringOrEmpty(p.RoomCode)
		if code == "" {
			code = stringOrEmpty(p.GameID)
		}
		return Join{
			ConnID:          conn,
			Name:            stringOrEmpty(p.Name),
			RoomCode:        code,
			RequireExisting: p.RequireExisting,
		}, nil

	case CommandRename:
		return Rename{ConnID: conn, Name: renameTarget(env.Data)}, nil

	case CommandMoveCard:
		var p movePayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ID == nil {
			return nil, fmt.Errorf("%w: move-card 缺少 id", ErrBadPayload)
		}
		return MoveCard{ConnID: conn, CardID: *p.ID, DX: p.DX, DY: p.DY}, nil

	case CommandReleaseCard:
		var p releasePayload
		if err := decodePayload(env.Data, &p); err != nil {
			return nil, err
		}
		if p.ID == nil {
			return nil, fmt.Errorf("%w: release-card 缺少 id", ErrBadPayload)
		}
		return ReleaseCard{ConnID: conn, CardID: *p.ID}, nil

	default:
		return nil, fmt.Errorf("%w: 未知指令 %q", ErrBadPayload, env.Type)
	}
}

func decodePayload(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: 缺少 data", ErrBadPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// renameTarget 接受字串或 {name}
func renameTarget(data json.RawMessage) string {
	if s := stringOrEmpty(data); s != "" {
		return s
	}
	var p struct {
		Name json.RawMessage `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return stringOrEmpty(p.Name)
}

func stringOrEmpty(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ""
	}
	return s
}
