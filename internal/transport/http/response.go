package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构（管理接口与 CMS 回调）
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Msg:  MsgOK,
		Data: data,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, msg)
}

// Error 通用错误响应
func Error(c *gin.Context, httpCode int, msg string) {
	ErrorWithData(c, httpCode, msg, nil)
}

// ErrorWithData 错误响应并附带数据（例如部分完成的处理报告）
func ErrorWithData(c *gin.Context, httpCode int, msg string, data interface{}) {
	c.JSON(httpCode, Response{
		Code: httpCode,
		Msg:  msg,
		Data: data,
	})
}

// FormResult 公开表单的 JSON 响应
type FormResult struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// alert HTML 提示片段的数据
type alert struct {
	Kind string // success | error
	Lead string
	Text string
}

func renderAlert(c *gin.Context, status int, a alert) {
	c.HTML(status, "alert.html", a)
}

func successAlert(lead, text string) alert {
	return alert{Kind: "success", Lead: lead, Text: text}
}

func errorAlert(lead, text string) alert {
	return alert{Kind: "error", Lead: lead, Text: text}
}
