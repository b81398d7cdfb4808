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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/control"
	"github.com/alwitt/telestream/sink"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// APIRestViewerHandler REST handler driving a viewer: toggling variables, reading series,
// setting thresholds, and handling the alert slot
type APIRestViewerHandler struct {
	goutils.RestAPIHandler
	client     control.ControlClient
	series     *sink.SeriesStore
	thresholds *sink.ThresholdMonitor
	alerts     *sink.AlertSlot
	validate   *validator.Validate
}

// GetAPIRestViewerHandler define APIRestViewerHandler
func GetAPIRestViewerHandler(
	client control.ControlClient,
	series *sink.SeriesStore,
	thresholds *sink.ThresholdMonitor,
	alerts *sink.AlertSlot,
	httpConfig *common.HTTPServerConfig,
) (APIRestViewerHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "viewer",
	}
	return APIRestViewerHandler{
		RestAPIHandler: defineRestAPIHandler(logTags, httpConfig),
		client:         client,
		series:         series,
		thresholds:     thresholds,
		alerts:         alerts,
		validate:       validator.New(),
	}, nil
}

// errorStatus map a viewer operation error to a response code
func errorStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrUnknownVariable):
		return http.StatusNotFound
	case errors.Is(err, common.ErrCapacityExceeded), errors.Is(err, common.ErrPortConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrProtocol):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// readVariable fetch and check the {variableName} path parameter
func (h APIRestViewerHandler) readVariable(r *http.Request) (string, error) {
	variable, ok := mux.Vars(r)["variableName"]
	if !ok || variable == "" {
		return "", fmt.Errorf("%w: no variable name provided", common.ErrProtocol)
	}
	if !h.client.Catalog().Contains(variable) {
		return "", fmt.Errorf("%w: %s", common.ErrUnknownVariable, variable)
	}
	return variable, nil
}

// fail log, raise the failure on the alert slot, and reply with an error
func (h APIRestViewerHandler) fail(
	w http.ResponseWriter, r *http.Request, msg string, err error, raiseAlert bool,
) {
	log.WithError(err).WithFields(h.GetLogTagsForContext(r.Context())).Error(msg)
	if raiseAlert {
		h.alerts.Raise(sink.AlertFailure, "", fmt.Sprintf("%s: %s", msg, err.Error()))
	}
	code := errorStatus(err)
	writeResponse(h.RestAPIHandler, w, r, code, h.GetStdRESTErrorMsg(r.Context(), code, msg, err.Error()))
}

// -----------------------------------------------------------------------

// GetCatalog list the variables received from the server
func (h APIRestViewerHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, APIRestRespCatalog{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Catalog:             h.client.Catalog().Names(),
	})
}

// GetCatalogHandler Wrapper around GetCatalog
func (h APIRestViewerHandler) GetCatalogHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetCatalog(w, r)
	}
}

// GetSubscriptions list the viewer's subscriptions
func (h APIRestViewerHandler) GetSubscriptions(w http.ResponseWriter, r *http.Request) {
	listSubscriptions(h.RestAPIHandler, w, r, h.client.Subscriptions)
}

// GetSubscriptionsHandler Wrapper around GetSubscriptions
func (h APIRestViewerHandler) GetSubscriptionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetSubscriptions(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestReqToggle request to enable or disable a variable
type APIRestReqToggle struct {
	// Enabled whether the variable should stream
	Enabled *bool `json:"enabled" validate:"required"`
}

// ToggleVariable subscribe or unsubscribe one variable
func (h APIRestViewerHandler) ToggleVariable(w http.ResponseWriter, r *http.Request) {
	variable, err := h.readVariable(r)
	if err != nil {
		h.fail(w, r, "Invalid variable", err, false)
		return
	}
	var params APIRestReqToggle
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.fail(w, r, "Unable to parse request body", fmt.Errorf("%w: %s", common.ErrProtocol, err.Error()), false)
		return
	}
	if err := h.validate.Struct(&params); err != nil {
		h.fail(w, r, "Invalid request body", fmt.Errorf("%w: %s", common.ErrProtocol, err.Error()), false)
		return
	}
	if err := h.client.ToggleVariable(r.Context(), variable, *params.Enabled); err != nil {
		h.fail(w, r, fmt.Sprintf("Unable to toggle %s", variable), err, true)
		return
	}
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()))
}

// ToggleVariableHandler Wrapper around ToggleVariable
func (h APIRestViewerHandler) ToggleVariableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ToggleVariable(w, r)
	}
}

// StopAll unsubscribe every variable. Series are kept.
func (h APIRestViewerHandler) StopAll(w http.ResponseWriter, r *http.Request) {
	if err := h.client.StopAll(r.Context()); err != nil {
		h.fail(w, r, "Unable to stop streaming", err, true)
		return
	}
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()))
}

// StopAllHandler Wrapper around StopAll
func (h APIRestViewerHandler) StopAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StopAll(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespSeries response carrying one variable's series
type APIRestRespSeries struct {
	goutils.RestAPIBaseResponse
	Variable string       `json:"variable"`
	Points   []sink.Point `json:"points"`
}

// GetSeries fetch the retained points of one variable
func (h APIRestViewerHandler) GetSeries(w http.ResponseWriter, r *http.Request) {
	variable, err := h.readVariable(r)
	if err != nil {
		h.fail(w, r, "Invalid variable", err, false)
		return
	}
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, APIRestRespSeries{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Variable:            variable,
		Points:              h.series.Series(variable),
	})
}

// GetSeriesHandler Wrapper around GetSeries
func (h APIRestViewerHandler) GetSeriesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetSeries(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespThreshold response carrying one variable's threshold
type APIRestRespThreshold struct {
	goutils.RestAPIBaseResponse
	Variable  string         `json:"variable"`
	Threshold sink.Threshold `json:"threshold"`
}

// GetThreshold fetch the threshold of one variable
func (h APIRestViewerHandler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	variable, err := h.readVariable(r)
	if err != nil {
		h.fail(w, r, "Invalid variable", err, false)
		return
	}
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, APIRestRespThreshold{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Variable:            variable,
		Threshold:           h.thresholds.Get(variable),
	})
}

// GetThresholdHandler Wrapper around GetThreshold
func (h APIRestViewerHandler) GetThresholdHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetThreshold(w, r)
	}
}

// SetThreshold replace the threshold of one variable
func (h APIRestViewerHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	variable, err := h.readVariable(r)
	if err != nil {
		h.fail(w, r, "Invalid variable", err, false)
		return
	}
	threshold := h.thresholds.Get(variable)
	if err := json.NewDecoder(r.Body).Decode(&threshold); err != nil {
		h.fail(w, r, "Unable to parse request body", fmt.Errorf("%w: %s", common.ErrProtocol, err.Error()), false)
		return
	}
	h.thresholds.Set(variable, threshold)
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, APIRestRespThreshold{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		Variable:            variable,
		Threshold:           threshold,
	})
}

// SetThresholdHandler Wrapper around SetThreshold
func (h APIRestViewerHandler) SetThresholdHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.SetThreshold(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespAlert response carrying the live alert, if any
type APIRestRespAlert struct {
	goutils.RestAPIBaseResponse
	Alert *sink.Alert `json:"alert,omitempty"`
}

// GetAlert fetch the live alert
func (h APIRestViewerHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	resp := APIRestRespAlert{RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context())}
	if alert, live := h.alerts.Current(); live {
		resp.Alert = &alert
	}
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, resp)
}

// GetAlertHandler Wrapper around GetAlert
func (h APIRestViewerHandler) GetAlertHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetAlert(w, r)
	}
}

// DismissAlert clear the live alert
func (h APIRestViewerHandler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	if !h.alerts.Dismiss() {
		msg := "No alert showing"
		writeResponse(h.RestAPIHandler, w, r, http.StatusNotFound, h.GetStdRESTErrorMsg(
			r.Context(), http.StatusNotFound, msg, msg,
		))
		return
	}
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()))
}

// DismissAlertHandler Wrapper around DismissAlert
func (h APIRestViewerHandler) DismissAlertHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.DismissAlert(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready ready while the control connection is up
func (h APIRestViewerHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.client.Connected() {
		msg := "not ready"
		writeResponse(h.RestAPIHandler, w, r, http.StatusServiceUnavailable, h.GetStdRESTErrorMsg(
			r.Context(), http.StatusServiceUnavailable, msg, "control connection down",
		))
		return
	}
	writeResponse(h.RestAPIHandler, w, r, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()))
}

// ReadyHandler Wrapper around Ready
func (h APIRestViewerHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

// -----------------------------------------------------------------------

// BuildViewerRouter define the viewer API routes. metrics may be nil.
func BuildViewerRouter(h APIRestViewerHandler, metrics http.Handler) *mux.Router {
	router := mux.NewRouter()
	_ = RegisterPathPrefix(router, "/v1/catalog", MethodHandlers{
		"get": h.GetCatalogHandler(),
	})
	_ = RegisterPathPrefix(router, "/v1/subscriptions", MethodHandlers{
		"get": h.GetSubscriptionsHandler(),
	})
	_ = RegisterPathPrefix(router, "/v1/stop", MethodHandlers{
		"post": h.StopAllHandler(),
	})
	perVariableRouter := RegisterPathPrefix(router, "/v1/variable/{variableName}", MethodHandlers{
		"put": h.ToggleVariableHandler(),
	})
	_ = RegisterPathPrefix(perVariableRouter, "/series", MethodHandlers{
		"get": h.GetSeriesHandler(),
	})
	_ = RegisterPathPrefix(perVariableRouter, "/threshold", MethodHandlers{
		"get": h.GetThresholdHandler(),
		"put": h.SetThresholdHandler(),
	})
	_ = RegisterPathPrefix(router, "/v1/alert", MethodHandlers{
		"get":    h.GetAlertHandler(),
		"delete": h.DismissAlertHandler(),
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
