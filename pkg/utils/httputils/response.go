// Package httputils provides HTTP response helpers.
package httputils

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/chatbase/pkg/errors"
)

// Response is the uniform HTTP response envelope.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListData wraps paginated list payloads.
type ListData struct {
	Total int64       `json:"total"`
	Items interface{} `json:"items"`
}

// WriteResponse writes either an error or a success payload to the client,
// mapping registered error codes to their HTTP status.
func WriteResponse(c *gin.Context, err error, data interface{}) {
	if err != nil {
		errno := errors.FromError(err)
		c.JSON(errno.HTTPStatus(), Response{
			Code:    errno.Code,
			Message: errno.MessageEN,
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// WriteList writes a paginated list response.
func WriteList(c *gin.Context, err error, total int64, items interface{}) {
	if err != nil {
		WriteResponse(c, err, nil)
		return
	}
	WriteResponse(c, nil, ListData{Total: total, Items: items})
}
