package race

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/koopa0/typetrial/pkg/errors"
)

// MessageType 協定訊息種類
type MessageType string

// 客戶端 → 引擎
const (
	MsgConnectPublic  MessageType = "connect_public"
	MsgConnectPrivate MessageType = "connect_private"
	MsgCreatePrivate  MessageType = "create_private"
	MsgStart          MessageType = "start"
	MsgType           MessageType = "type"
	MsgPowerup        MessageType = "powerup"
)

// 引擎 → 客戶端
const (
	MsgRaceData MessageType = "raceData"
	MsgError    MessageType = "error"
	MsgNewUser  MessageType = "new_user"
)

// Inbound 客戶端訊息
//
// powerupType 不檢查是否為已知道具，未知種類由引擎降級處理。
type Inbound struct {
	Type        MessageType `json:"type" validate:"required,oneof=connect_public connect_private create_private start type powerup"`
	RoomID      string      `json:"roomId,omitempty" validate:"required_if=Type connect_private"`
	Solo        bool        `json:"solo,omitempty"`
	CharsTyped  int         `json:"charsTyped,omitempty" validate:"gte=0"`
	PowerupType PowerupType `json:"powerupType,omitempty" validate:"required_if=Type powerup"`
}

// Outbound 引擎送出的訊息
type Outbound struct {
	Type     MessageType `json:"type"`
	RaceInfo *RoomState  `json:"raceInfo,omitempty"`
	Message  string      `json:"message,omitempty"`
	Username string      `json:"username,omitempty"`
}

// RaceDataMessage 完整房間快照
func RaceDataMessage(state RoomState) Outbound {
	return Outbound{Type: MsgRaceData, RaceInfo: &state}
}

// ErrorMessage 錯誤通知
func ErrorMessage(message string) Outbound {
	return Outbound{Type: MsgError, Message: message}
}

// NewUserMessage 舊版連線流程使用的身分確認
func NewUserMessage(username string) Outbound {
	return Outbound{Type: MsgNewUser, Username: username}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeInbound 解析並驗證客戶端訊息
func DecodeInbound(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Inbound{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, apperrors.ErrInvalidMessage.Message)
	}
	if err := validate.Struct(msg); err != nil {
		return Inbound{}, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, apperrors.ErrInvalidMessage.Message)
	}
	return msg, nil
}
