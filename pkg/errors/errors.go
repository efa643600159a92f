// Package errors 提供统一的错误定义
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"

	// 资源错误 (3xxx)
	CodeProjectNotFound ErrorCode = "3001"

	// 业务错误 (4xxx)
	CodePipelineRunning    ErrorCode = "4001"
	CodeValidationFailed   ErrorCode = "4002"
	CodeExtractionFailure  ErrorCode = "4003"
	CodeDependencyFailure  ErrorCode = "4004"
	CodeUnknownStage       ErrorCode = "4005"
	CodeStageFailed        ErrorCode = "4006"
	CodeCircuitOpen        ErrorCode = "4007"
	CodeImageGenerationErr ErrorCode = "4008"

	// 外部服务错误 (5xxx)
	CodeDatabaseError         ErrorCode = "5001"
	CodeCacheError            ErrorCode = "5002"
	CodeStorageError          ErrorCode = "5004"
	CodeProviderCallFailure   ErrorCode = "5005"
	CodeAllProvidersFailed    ErrorCode = "5006"
	CodeMissingCredential     ErrorCode = "5007"
	CodeUnsupportedCapability ErrorCode = "5008"
	CodeUnknownProvider       ErrorCode = "5009"
	CodeMessagingError        ErrorCode = "5010"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// maxDetailInError 限制 Error() 中 Detail 的长度，抽取失败时 Detail 可能是完整原文
const maxDetailInError = 512

// Error 实现 error 接口，Detail 非空时一并输出
func (e *AppError) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + clip(e.Detail, maxDetailInError)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码比较，使 errors.Is(err, ErrDependencyFailure) 对包装后的错误同样成立
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail 返回带详细信息的副本
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 返回带底层错误的副本
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Newf 创建带格式化消息的应用错误
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam, CodeUnknownStage, CodeValidationFailed:
		return http.StatusBadRequest
	case CodeNotFound, CodeProjectNotFound:
		return http.StatusNotFound
	case CodeConflict, CodePipelineRunning:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeUnsupportedCapability:
		return http.StatusUnprocessableEntity
	case CodeProviderCallFailure, CodeAllProvidersFailed:
		return http.StatusBadGateway
	case CodeServiceUnavailable, CodeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrConflict           = New(CodeConflict, "resource conflict")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrProjectNotFound = New(CodeProjectNotFound, "project not found")

	ErrPipelineRunning  = New(CodePipelineRunning, "pipeline already running for project")
	ErrUnknownStage     = New(CodeUnknownStage, "unknown analysis stage")
	ErrValidationFailed = New(CodeValidationFailed, "validation failed")

	// 生成链路错误分类
	ErrMissingCredential     = New(CodeMissingCredential, "missing provider credential")
	ErrUnsupportedCapability = New(CodeUnsupportedCapability, "provider does not support capability")
	ErrUnknownProvider       = New(CodeUnknownProvider, "unknown provider")
	ErrProviderCallFailure   = New(CodeProviderCallFailure, "provider call failed")
	ErrAllProvidersFailed    = New(CodeAllProvidersFailed, "all providers failed")
	ErrExtractionFailure     = New(CodeExtractionFailure, "structured extraction failed")
	ErrDependencyFailure     = New(CodeDependencyFailure, "upstream stage did not complete")
	ErrStageFailed           = New(CodeStageFailed, "stage failed")
	ErrCircuitOpen           = New(CodeCircuitOpen, "circuit open")
	ErrImageGeneration       = New(CodeImageGenerationErr, "image generation failed")
	ErrStorage               = New(CodeStorageError, "object storage failed")
	ErrMessaging             = New(CodeMessagingError, "messaging failed")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// HasCode 判断错误链中是否存在指定错误码
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &AppError{Code: code})
}
