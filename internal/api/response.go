package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	apperr "github.com/wfunc/ai-game-dev/internal/errors"
	"github.com/wfunc/ai-game-dev/internal/middleware"
)

// respondError 按错误码输出统一错误响应，不带调用栈
func respondError(c *gin.Context, err error) {
	appErr, ok := err.(*apperr.AppError)
	if !ok {
		appErr = apperr.Wrap(err, apperr.ErrUnknown)
	}
	out := *appErr
	out.Stack = nil
	c.JSON(out.HTTPStatus(), apperr.NewErrorResponse(&out, middleware.GetRequestID(c)))
}

// handleParam 解析路径中的句柄
func handleParam(c *gin.Context) (int, error) {
	raw := c.Param("handle")
	handle, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.ErrInvalidParam, "handle %q is not an integer", raw)
	}
	return handle, nil
}
