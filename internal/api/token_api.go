// Package api exposes the HTTP endpoints devices use to register for push.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-apns-legacy/pkg/apns"
	"github.com/tinywideclouds/go-apns-legacy/pkg/dispatch"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger.With("component", "TokenAPI"),
	}
}

// DeviceTokenRequest is the body of both register and unregister calls.
type DeviceTokenRequest struct {
	Token string `json:"token"`
}

// RegisterAPNs handles POST /api/v1/register/apns.
func (api *TokenAPI) RegisterAPNs(w http.ResponseWriter, r *http.Request) {
	user, token, ok := api.decode(w, r)
	if !ok {
		return
	}

	if err := api.Store.Register(r.Context(), user, token); err != nil {
		api.Logger.Error("failed to register apns token", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterAPNs: token registered", "user", user.String())

	w.WriteHeader(http.StatusNoContent)
}

// UnregisterAPNs handles POST /api/v1/unregister/apns. Unregistering a
// token the caller does not own succeeds without effect.
func (api *TokenAPI) UnregisterAPNs(w http.ResponseWriter, r *http.Request) {
	user, token, ok := api.decode(w, r)
	if !ok {
		return
	}

	if err := api.Store.Unregister(r.Context(), user, token); err != nil {
		api.Logger.Warn("failed to unregister apns token", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister token")
		return
	}
	api.Logger.Info("UnregisterAPNs: token unregistered", "user", user.String())

	w.WriteHeader(http.StatusNoContent)
}

// decode writes the error response itself and reports ok=false on failure.
func (api *TokenAPI) decode(w http.ResponseWriter, r *http.Request) (user urn.URN, token apns.DeviceToken, ok bool) {
	fail := func(code int, msg string) (urn.URN, apns.DeviceToken, bool) {
		response.WriteJSONError(w, code, msg)
		return user, token, false
	}

	userID, found := middleware.GetUserHandleFromContext(r.Context())
	if !found {
		return fail(http.StatusUnauthorized, "unauthorized")
	}
	parsed, err := urn.Parse(userID)
	if err != nil {
		return fail(http.StatusUnauthorized, "unauthorized")
	}

	var req DeviceTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return fail(http.StatusBadRequest, "invalid json")
	}
	if req.Token == "" {
		return fail(http.StatusBadRequest, "missing token")
	}
	token, err = apns.ParseDeviceToken(req.Token)
	if err != nil {
		api.Logger.Warn("rejected device token", "reason", err.Error())
		return fail(http.StatusBadRequest, "invalid device token")
	}
	user = parsed
	return user, token, true
}
