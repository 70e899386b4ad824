package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// 错误代码常量
const (
	// 通用错误
	ErrCodeInternalServerError = http.StatusInternalServerError // 服务器内部错误
	ErrCodeBadRequest          = http.StatusBadRequest          // 请求参数错误
	ErrCodeNotFound            = http.StatusNotFound            // 资源不存在
	ErrCodeConflict            = http.StatusConflict            // 资源冲突

	// 规则相关错误
	ErrCodeRuleNotFound       = http.StatusNotFound   // 规则不存在
	ErrCodeRuleAlreadyExists  = http.StatusConflict   // 规则已存在
	ErrCodeInvalidRuleFormat  = http.StatusBadRequest // 规则格式无效
	ErrCodeRuleValidationFail = http.StatusBadRequest // 规则验证失败
)

// ServiceError 自定义服务错误类型
type ServiceError struct {
	Code    int         // HTTP 状态码
	Message string      // 错误消息
	Err     error       // 原始错误
	Data    interface{} // 附加数据（可选）
}

// Error 实现 error 接口
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// NewServiceError 创建新的服务错误
func NewServiceError(code int, message string, err error) *ServiceError {
	return &ServiceError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewRuleNotFoundError 创建规则不存在错误
func NewRuleNotFoundError(ruleID string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeRuleNotFound,
		Message: fmt.Sprintf("规则 %s 不存在", ruleID),
	}
}

// NewRuleIDEmptyError 创建规则ID为空错误
func NewRuleIDEmptyError() *ServiceError {
	return &ServiceError{
		Code:    ErrCodeBadRequest,
		Message: "规则ID不能为空",
	}
}

// NewRuleAlreadyExistsError 创建规则已存在错误
func NewRuleAlreadyExistsError(ruleID string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeRuleAlreadyExists,
		Message: fmt.Sprintf("规则 %s 已存在", ruleID),
	}
}

// NewInvalidRuleFormatError 创建规则格式无效错误
func NewInvalidRuleFormatError(err error) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeInvalidRuleFormat,
		Message: "规则格式无效",
		Err:     err,
	}
}

// NewRuleValidationError 创建规则验证失败错误
func NewRuleValidationError(err error) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeRuleValidationFail,
		Message: "规则验证失败",
		Err:     err,
	}
}

// NewFilterNotFoundError 创建过滤器不存在错误
func NewFilterNotFoundError(filterID string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("过滤器 %s 不存在", filterID),
	}
}

// NewInvalidFilterError 创建过滤器配置无效错误
func NewInvalidFilterError(err error) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeBadRequest,
		Message: "过滤器配置无效",
		Err:     err,
	}
}

// NewPublicationNotFoundError 创建发布控制块不存在错误
func NewPublicationNotFoundError(goCbRef string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("发布控制块 %s 不存在", goCbRef),
	}
}

// NewPublicationExistsError 创建发布控制块已存在错误
func NewPublicationExistsError(goCbRef string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeConflict,
		Message: fmt.Sprintf("发布控制块 %s 已存在", goCbRef),
	}
}

// NewInvalidPublicationError 创建发布配置无效错误
func NewInvalidPublicationError(err error) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeBadRequest,
		Message: "发布配置无效",
		Err:     err,
	}
}

// NewInternalServerError 创建服务器内部错误
func NewInternalServerError(err error) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeInternalServerError,
		Message: "服务器内部错误",
		Err:     err,
	}
}

// HandleError 统一错误处理函数
func HandleError(c echo.Context, err error) error {
	// 记录错误日志
	logrus.WithFields(logrus.Fields{
		"error":      err.Error(),
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"path":       c.Request().URL.Path,
		"method":     c.Request().Method,
	}).Error("API 错误")

	// 处理自定义错误
	if svcErr, ok := err.(*ServiceError); ok {
		// 返回错误响应
		resp := Response{
			Code:    svcErr.Code,
			Message: svcErr.Message,
		}

		// 在开发环境中可以添加详细错误信息
		if svcErr.Err != nil && IsDebugMode() {
			resp.Data = map[string]string{
				"error_detail": svcErr.Err.Error(),
			}
		}

		// 返回json格式的错误响应
		return c.JSON(svcErr.Code, resp)
	}

	// 处理未知错误
	return c.JSON(http.StatusInternalServerError, Response{
		Code:    http.StatusInternalServerError,
		Message: "服务器内部错误",
	})
}

// IsDebugMode 判断是否为调试模式
func IsDebugMode() bool {
	return logrus.GetLevel() >= logrus.DebugLevel
}
