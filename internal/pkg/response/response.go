package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeInvalidFile      = 1004
	CodeStatusConflict   = 1006
	CodeServerError      = 5000
	CodeQueueUnavailable = 5001
)

// codeMessages message 为空时使用的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "参数错误",
	CodeAuthFailed:       "认证失败",
	CodePermissionDenied: "权限不足",
	CodeResourceNotFound: "资源不存在",
	CodeInvalidFile:      "文件类型或大小不符合要求",
	CodeStatusConflict:   "当前状态不允许该操作",
	CodeServerError:      "服务器内部错误",
	CodeQueueUnavailable: "任务队列不可用",
}

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// PageData 分页数据结构
type PageData struct {
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Items    interface{} `json:"items"`
}

// write 所有响应都返回 HTTP 200，业务结果由 code 区分；message 为空时使用默认消息
func write(c *gin.Context, code int, message string, data interface{}) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func Success(c *gin.Context, data interface{}) {
	write(c, CodeSuccess, "", data)
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	write(c, CodeSuccess, message, data)
}

// SuccessPage 列表响应，items 放在 PageData 中
func SuccessPage(c *gin.Context, total int64, page, pageSize int, items interface{}) {
	write(c, CodeSuccess, "", PageData{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	})
}

// Error 错误响应，data 为 null
func Error(c *gin.Context, code int, message string) {
	write(c, code, message, nil)
}

func ParamError(c *gin.Context, message string) { Error(c, CodeParamError, message) }
func AuthError(c *gin.Context, message string) { Error(c, CodeAuthFailed, message) }
func PermissionError(c *gin.Context, message string) { Error(c, CodePermissionDenied, message) }
func NotFoundError(c *gin.Context, message string) { Error(c, CodeResourceNotFound, message) }
func InvalidFileError(c *gin.Context, message string) { Error(c, CodeInvalidFile, message) }
func QueueError(c *gin.Context, message string) { Error(c, CodeQueueUnavailable, message) }
func ServerError(c *gin.Context, message string) { Error(c, CodeServerError, message) }

// ConflictError 状态冲突，data 携带简历当前状态
func ConflictError(c *gin.Context, message string, data interface{}) {
	write(c, CodeStatusConflict, message, data)
}
