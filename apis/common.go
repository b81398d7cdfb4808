// Copyright 2025 The telestream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// MethodHandlers DICT of method-endpoint handler
type MethodHandlers map[string]http.HandlerFunc

// RegisterPathPrefix Register new method handler for an end-point
func RegisterPathPrefix(
	parentRouter *mux.Router, pathPrefix string, methodHandlers MethodHandlers,
) *mux.Router {
	router := parentRouter.PathPrefix(pathPrefix).Subrouter()
	for method, handler := range methodHandlers {
		router.Methods(method).Path("").HandlerFunc(handler)
	}
	return router
}

// ========================================================================================

// defineRestAPIHandler define the base REST handler from the HTTP server config
func defineRestAPIHandler(logTags log.Fields, httpConfig *common.HTTPServerConfig) goutils.RestAPIHandler {
	var requestIDHeader *string
	if httpConfig.RequestIDHeader != "" {
		header := httpConfig.RequestIDHeader
		requestIDHeader = &header
	}
	skipHeaders := map[string]bool{}
	for _, header := range httpConfig.DoNotLogHeaders {
		skipHeaders[http.CanonicalHeaderKey(header)] = true
	}
	return goutils.RestAPIHandler{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		CallRequestIDHeaderField: requestIDHeader,
		DoNotLogHeaders:          skipHeaders,
	}
}

// writeResponse helper function for writing responses
func writeResponse(
	h goutils.RestAPIHandler, w http.ResponseWriter, r *http.Request, respCode int, resp interface{},
) {
	if err := h.WriteRESTResponse(w, respCode, resp, nil); err != nil {
		log.WithError(err).WithFields(h.GetLogTagsForContext(r.Context())).Error(
			"Failed to form response",
		)
	}
}

// useLoggingMiddleware attach the request ID and request logging to every route
func useLoggingMiddleware(router *mux.Router, h goutils.RestAPIHandler) {
	router.Use(func(next http.Handler) http.Handler {
		return h.LoggingMiddleware(next.ServeHTTP)
	})
}

// aliveHandler liveness check
func aliveHandler(h goutils.RestAPIHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(h, w, r, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()))
	}
}
