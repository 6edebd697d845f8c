package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"
)

// ErrInvalidRequest marks errors caused by the client's request. They are
// answered with 400 and the offending parameter, if known.
var ErrInvalidRequest = errors.New("invalid_request")

type requestError struct {
	param string
	msg   string
}

func (e *requestError) Error() string {
	if e.param == "" {
		return e.msg
	}
	return e.param + ": " + e.msg
}

func (e *requestError) Unwrap() error { return ErrInvalidRequest }

func invalidParam(param, format string, args ...any) error {
	return &requestError{param: param, msg: fmt.Sprintf(format, args...)}
}

// writeRequestError answers err as a client error when it wraps
// ErrInvalidRequest and as a server error otherwise.
func writeRequestError(c *echo.Context, err error) error {
	if !errors.Is(err, ErrInvalidRequest) {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	var re *requestError
	if errors.As(err, &re) {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", re.msg, re.param, "")
	}
	return writeBadRequest(c, err.Error())
}
