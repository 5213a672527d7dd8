package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/fyerfyer/paper-dataset/api/model"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 定义应用中的错误类型常量
const (
	ErrorTypeValidation  = "VALIDATION_ERROR"  // 输入验证错误
	ErrorTypeNotFound    = "NOT_FOUND_ERROR"   // 资源不存在错误
	ErrorTypeInternal    = "INTERNAL_ERROR"    // 内部服务器错误
	ErrorTypeBusiness    = "BUSINESS_ERROR"    // 业务逻辑错误
	ErrorTypeConflict    = "CONFLICT_ERROR"    // 资源状态冲突
	ErrorTypeUnavailable = "UNAVAILABLE_ERROR" // 依赖服务不可用
)

// AppError 应用错误结构体
type AppError struct {
	Type    string // 错误类型
	Message string // 错误消息
	Details string // 详细错误信息
	Code    int    // 错误代码
}

// Error 实现error接口的方法
func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewValidationError 创建输入验证错误
func NewValidationError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// NewConflictError 创建状态冲突错误
func NewConflictError(message string) AppError {
	return AppError{
		Type:    ErrorTypeConflict,
		Message: message,
		Code:    http.StatusConflict,
	}
}

// NewUnavailableError 创建依赖不可用错误
func NewUnavailableError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeUnavailable,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadGateway,
	}
}

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) AppError {
	return AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

// NewInternalError 创建内部服务器错误
func NewInternalError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusInternalServerError,
	}
}

// NewBusinessError 创建业务逻辑错误
func NewBusinessError(message string, details ...string) AppError {
	return AppError{
		Type:    ErrorTypeBusiness,
		Message: message,
		Details: strings.Join(details, "; "),
		Code:    http.StatusBadRequest,
	}
}

// FromError 把任意错误转换为应用错误
// 流水线错误按类别映射状态码，其他错误按内部错误处理
func FromError(err error) AppError {
	var app AppError
	if errors.As(err, &app) {
		return app
	}
	var appPtr *AppError
	if errors.As(err, &appPtr) && appPtr != nil {
		return *appPtr
	}

	switch models.KindOf(err) {
	case models.KindInvalidConfig, models.KindUnsupportedFormat, models.KindInvalidReference:
		return NewValidationError("无效的运行配置", err.Error())
	case models.KindNotFound:
		return NewNotFoundError(err.Error())
	case models.KindNetwork:
		return NewUnavailableError("上游服务不可用", err.Error())
	}
	return NewInternalError("Internal server error", err.Error())
}

// ErrorMiddleware 统一错误处理中间件
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 捕获 panic
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(logrus.Fields{
					FieldError: rec,
					"stack":    string(debug.Stack()),
					FieldPath:  c.Request.URL.Path,
				}).Error("Panic recovered in API request")

				message := "An unexpected error occurred"
				if gin.Mode() == gin.DebugMode {
					message = fmt.Sprintf("Panic: %v", rec)
				}
				writeError(c, http.StatusInternalServerError, message)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		// 取最后一个错误进行处理
		app := FromError(c.Errors.Last().Err)

		entry := log.WithFields(logrus.Fields{
			"error_type": app.Type,
			FieldPath:    c.Request.URL.Path,
		})
		if traceID, ok := c.Get("TraceID"); ok {
			entry = entry.WithField(FieldTraceID, traceID)
		}
		if app.Details != "" {
			entry = entry.WithField(FieldError, app.Details)
		}
		if app.Code >= http.StatusInternalServerError {
			entry.Error(app.Message)
		} else {
			entry.Warn(app.Message)
		}

		// 调试模式下返回详细信息
		message := app.Message
		if gin.Mode() == gin.DebugMode && app.Details != "" {
			message = app.Message + ": " + app.Details
		}
		writeError(c, app.Code, message)
	}
}

// writeError 写入错误响应并中止处理
func writeError(c *gin.Context, code int, message string) {
	resp := model.NewErrorResponse(code, message)
	if traceID, ok := c.Get("TraceID"); ok {
		resp.TraceID, _ = traceID.(string)
	}
	c.AbortWithStatusJSON(code, resp)
}

// HandleError 在处理器中使用的错误处理辅助函数
func HandleError(c *gin.Context, err error) {
	// 添加错误到上下文中
	_ = c.Error(err)
}
