// Package errors 提供比賽引擎的錯誤定義
package errors

import (
	"errors"
	"fmt"
)

// 錯誤碼
const (
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInvalidInput 無效輸入（協定訊息格式錯誤）
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeForbidden 無權執行（例如非房主開始比賽）
	ErrCodeForbidden = "FORBIDDEN"
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeAlreadyConnected 使用者已有連線
	ErrCodeAlreadyConnected = "ALREADY_CONNECTED"
	// ErrCodeRateLimited 訊息頻率超限
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeTimeout 超時
	ErrCodeTimeout = "TIMEOUT"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeUnavailable 服務不可用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
)

// AppError 應用程式錯誤
//
// Message 會直接送到客戶端的 error 訊息，因此保持簡短且不含內部細節。
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶有詳細資訊的副本
//
// 預定義錯誤是共用的，不能直接修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeNotFound, "room not found")

	// ErrRoomFull 房間已滿
	ErrRoomFull = New(ErrCodeRoomFull, "room is full")

	// ErrAlreadyConnected 使用者已經連線到某個房間
	ErrAlreadyConnected = New(ErrCodeAlreadyConnected, "user already connected")

	// ErrNotRoomOwner 只有房主可以開始比賽
	ErrNotRoomOwner = New(ErrCodeForbidden, "only the room creator can start the race")

	// ErrNotInRoom 使用者不在任何房間
	ErrNotInRoom = New(ErrCodeForbidden, "not in a room")

	// ErrInvalidMessage 無法解析的協定訊息
	ErrInvalidMessage = New(ErrCodeInvalidInput, "invalid message")

	// ErrRateLimited 訊息過於頻繁
	ErrRateLimited = New(ErrCodeRateLimited, "too many messages")

	// ErrOwnerDisconnected 房主在比賽開始前離開
	ErrOwnerDisconnected = New(ErrCodeUnavailable, "room creator disconnected")

	// ErrRaceTimedOut 比賽超過時間上限
	ErrRaceTimedOut = New(ErrCodeTimeout, "race timed out")

	// ErrDatabaseUnavailable 資料庫不可用
	ErrDatabaseUnavailable = New(ErrCodeUnavailable, "database service unavailable")

	// ErrEngineStopped 引擎已停止
	ErrEngineStopped = New(ErrCodeUnavailable, "server shutting down")
)

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsForbidden 檢查是否為權限錯誤
func IsForbidden(err error) bool {
	return hasCode(err, ErrCodeForbidden)
}

// IsInvalidInput 檢查是否為無效輸入錯誤
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrCodeInvalidInput)
}

// IsTimeout 檢查是否為超時錯誤
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsUnavailable 檢查是否為服務不可用錯誤
func IsUnavailable(err error) bool {
	return hasCode(err, ErrCodeUnavailable)
}

// IsAlreadyConnected 檢查是否為重複連線錯誤
func IsAlreadyConnected(err error) bool {
	return hasCode(err, ErrCodeAlreadyConnected)
}

// MessageOf 取得可以送給客戶端的訊息
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

func hasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
