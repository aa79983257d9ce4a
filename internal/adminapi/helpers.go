package adminapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"gorm.io/gorm"
)

type apiResponse struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

type apiError struct {
	Code    int         `json:"-"`
	ErrCode string      `json:"error"`
	Msg     string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

type pagedResponse struct {
	Code     int         `json:"code"`
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(200, apiResponse{Code: 0, Data: data})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, apiError{Code: status, ErrCode: code, Msg: msg, Detail: detail})
}

func paged(c echo.Context, data interface{}, total int64, page, pageSize int) error {
	return c.JSON(200, pagedResponse{Code: 0, Data: data, Total: total, Page: page, PageSize: pageSize})
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page = cast.ToInt(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize = cast.ToInt(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 20
	}
	return page, pageSize
}

// GetDB returns the request-scoped database handle.
func GetDB(c echo.Context) *gorm.DB {
	if db, okk := c.Get(ctxKeyDB).(*gorm.DB); okk {
		return db
	}
	return appCtx.DB()
}
