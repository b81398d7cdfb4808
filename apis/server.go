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
	"context"
	"net"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/subscription"
	"github.com/apex/log"
	"github.com/gorilla/mux"
)

// SessionView the server state exposed over REST
type SessionView interface {
	Catalog() common.Catalog
	Subscriptions(ctxt context.Context) ([]subscription.Subscription, error)
	Addr() net.Addr
}

// APIRestServerHandler REST handler for the telemetry server status API
type APIRestServerHandler struct {
	goutils.RestAPIHandler
	core SessionView
}

// GetAPIRestServerHandler define APIRestServerHandler
func GetAPIRestServerHandler(
	core SessionView, httpConfig *common.HTTPServerConfig,
) (APIRestServerHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "server-status",
	}
	return APIRestServerHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, httpConfig),
		core:           core,
	}, nil
}

// -----------------------------------------------------------------------

// APIRestRespCatalog response listing the variable catalog
type APIRestRespCatalog struct {
	goutils.RestAPIBaseResponse
	// Catalog variable names in catalog order
	Catalog []string `json:"catalog"`
}

// GetCatalog list the variables offered to viewers
func (h APIRestServerHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, APIRestRespCatalog{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Catalog:             h.core.Catalog().Names(),
	})
}

// GetCatalogHandler Wrapper around GetCatalog
func (h APIRestServerHandler) GetCatalogHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetCatalog(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespSubscriptions response listing the current subscriptions
type APIRestRespSubscriptions struct {
	goutils.RestAPIBaseResponse
	// Subscriptions ordered by slot
	Subscriptions []subscription.Subscription `json:"subscriptions"`
}

// listSubscriptions shared by the server and viewer handlers
func listSubscriptions(
	h goutils.RestAPIHandler,
	w http.ResponseWriter,
	r *http.Request,
	lister func(context.Context) ([]subscription.Subscription, error),
) {
	subs, err := lister(r.Context())
	if err != nil {
		msg := "Unable to list subscriptions"
		log.WithError(err).WithFields(h.GetLogTagsForContext(r.Context())).Error(msg)
		writeResponse(h, w, r, http.StatusInternalServerError, h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		))
		return
	}
	writeResponse(h, w, r, http.StatusOK, APIRestRespSubscriptions{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Subscriptions:       subs,
	})
}

// GetSubscriptions list the subscriptions of the active session
func (h APIRestServerHandler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	listSubscriptions(h.RestAPIHandler, w, r, h.core.Subscriptions)
}

// GetSubscriptionsHandler Wrapper around GetSubscriptions
func (h APIRestServerHandler) GetSubscriptionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetSubscriptions(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready ready once the control channel is listening
func (h APIRestServerHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.core.Addr() == nil {
		msg := "not ready"
		writeResponse(h.RestAPIHandler, w, r, http.StatusServiceUnavailable, h.GetStdRESTErrorMsg(
			r.Context(), http.StatusServiceUnavailable, msg, "control channel not listening",
		))
		return
	}
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()))
}

// ReadyHandler Wrapper around Ready
func (h APIRestServerHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

// -----------------------------------------------------------------------

// BuildServerRouter define the server API routes. metrics may be nil.
func BuildServerRouter(h APIRestServerHandler, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()
	_ = RegisterPathPrefix(router, "/v1/catalog", MethodHandlers{
		"get": h.GetCatalogHandler(),
	})
	_ = RegisterPathPrefix(router, "/v1/subscriptions", MethodHandlers{
		"get": h.GetSubscriptionsHandler(),
	})
	_ = RegisterPathPrefix(router, "/alive", MethodHandlers{
		"get": aliveHandler(h.RestAPIHandler),
	})
	_ = RegisterPathPrefix(router, "/ready", MethodHandlers{
		"get": h.ReadyHandler(),
	})
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods("GET")
	}
	useLoggingMiddleware(router, h.RestAPIHandler)
	return router
}
