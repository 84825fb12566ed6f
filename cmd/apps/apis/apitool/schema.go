/*
 Copyright 2023 NanaFS Authors.

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package apitool

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basenana/phenfs/pkg/types"
)

type ApiErrorCode string

const (
	ApiArgsError     ApiErrorCode = "ArgsError"
	ApiNoPermits     ApiErrorCode = "NoPermits"
	ApiNotFoundError ApiErrorCode = "NotFound"
	ApiNotDirError   ApiErrorCode = "NotDir"
	ApiBusyError     ApiErrorCode = "Busy"
	ApiEntryExisted  ApiErrorCode = "EntryExisted"
	ApiClosedError   ApiErrorCode = "Closed"
	ApiInternalError ApiErrorCode = "InternalError"
)

type Response struct {
	Status int         `json:"status"`
	Error  *Error      `json:"error,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

type Error struct {
	Code    ApiErrorCode `json:"code"`
	Message string       `json:"message"`
}

func Error2ApiErrorCode(err error) (int, ApiErrorCode) {
	switch {
	case err == nil:
		return http.StatusOK, "NoError"
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound, ApiNotFoundError
	case errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest, ApiArgsError
	case errors.Is(err, types.ErrNotDir):
		return http.StatusBadRequest, ApiNotDirError
	case errors.Is(err, types.ErrNoPerm):
		return http.StatusForbidden, ApiNoPermits
	case errors.Is(err, types.ErrIsExist):
		return http.StatusBadRequest, ApiEntryExisted
	case errors.Is(err, types.ErrBusy):
		return http.StatusConflict, ApiBusyError
	case errors.Is(err, types.ErrClosed):
		return http.StatusServiceUnavailable, ApiClosedError
	}
	return http.StatusInternalServerError, ApiInternalError
}

func ErrorResponse(gCtx *gin.Context, err error) {
	status, code := Error2ApiErrorCode(err)
	ApiErrorResponse(gCtx, status, code, err)
}

func ApiErrorResponse(gCtx *gin.Context, status int, code ApiErrorCode, err error) {
	gCtx.JSON(status, Response{
		Status: status,
		Error:  &Error{Code: code, Message: err.Error()},
	})
}

func JsonResponse(gCtx *gin.Context, status int, data interface{}) {
	gCtx.JSON(status, Response{Status: status, Data: data})
}
