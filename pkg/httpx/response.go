package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// StatusError 自带HTTP状态码的错误
type StatusError interface {
	error
	HTTPStatus() int
}

// PublicError 可以直接返回给调用方的错误提示
type PublicError interface {
	PublicMessage() string
}

// WriteObject 写统一响应，err 决定状态码和提示
func WriteObject(c *gin.Context, data interface{}, err error) {
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Data: data})
}

// WriteError 写错误响应，未知错误按500处理且不暴露细节
func WriteError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "服务内部错误"

	var se StatusError
	if errors.As(err, &se) {
		status = se.HTTPStatus()
	}
	var pe PublicError
	if errors.As(err, &pe) {
		message = pe.PublicMessage()
	}

	c.JSON(status, Response{Success: false, Message: message})
}

// BadRequest 参数错误
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Message: message})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Message: message})
}
