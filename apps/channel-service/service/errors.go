package service

import (
	"errors"
	"fmt"
	"net/http"

	"goim-channel/apps/channel-service/dao"
)

// Kind 错误类型
type Kind string

const (
	KindNotFound         Kind = "NotFound"
	KindForbidden        Kind = "Forbidden"
	KindPermissionDenied Kind = "PermissionDenied"
	KindInvalidState     Kind = "InvalidState"
	KindAlreadyReported  Kind = "AlreadyReported"
	KindConflict         Kind = "Conflict"
	KindInvalidArgument  Kind = "InvalidArgument"
	KindInternal         Kind = "Internal"
)

// Error 业务错误，Kind 决定对外的状态码
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// 哨兵错误，用于 errors.Is 按类型判断
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrForbidden        = &Error{Kind: KindForbidden}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrAlreadyReported  = &Error{Kind: KindAlreadyReported}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrInternal         = &Error{Kind: KindInternal}
)

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.cause
}

// Is 同类型的业务错误视为相等
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// HTTPStatus 映射HTTP状态码
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden, KindPermissionDenied:
		return http.StatusForbidden
	case KindInvalidState, KindAlreadyReported, KindConflict:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 返回给调用方的提示，内部错误不暴露细节
func (e *Error) PublicMessage() string {
	if e.Kind == KindInternal {
		return "服务内部错误"
	}
	return e.Message
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf 取出错误类型，非业务错误视为内部错误
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// fromDAO 把数据层错误翻译为业务错误
func fromDAO(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, dao.ErrNotFound):
		return wrapError(KindNotFound, message, err)
	case errors.Is(err, dao.ErrBanned):
		return wrapError(KindForbidden, "用户已被封禁", err)
	case errors.Is(err, dao.ErrCreatorImmutable):
		return wrapError(KindInvalidState, "不能移除频道创建者", err)
	case errors.Is(err, dao.ErrAlreadyMember):
		return wrapError(KindInvalidState, "已经是频道成员", err)
	case errors.Is(err, dao.ErrAlreadyRequested):
		return wrapError(KindInvalidState, "已提交加入申请", err)
	case errors.Is(err, dao.ErrAlreadyReported):
		return wrapError(KindAlreadyReported, "已举报过该消息", err)
	case errors.Is(err, dao.ErrConflict):
		return wrapError(KindConflict, "并发修改冲突，请重试", err)
	default:
		return wrapError(KindInternal, message, err)
	}
}
