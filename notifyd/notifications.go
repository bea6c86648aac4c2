package notifyd

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cdr.dev/slog"

	"github.com/Anilsharma012/ekschin/notifyd/httpapi"
	"github.com/Anilsharma012/ekschin/notifyd/httpmw"
	"github.com/Anilsharma012/ekschin/notifyd/notifstore"
	"github.com/Anilsharma012/ekschin/notifysdk"
)

// listNotifications returns the caller's most recent notifications, newest
// first, with the unread count for badge rendering. It is the catch-up path
// for notifications that missed real-time delivery.
func (api *API) listNotifications(rw http.ResponseWriter, r *http.Request) {
	var (
		ctx      = r.Context()
		identity = httpmw.AuthenticatedIdentity(r)
	)

	limit := notifstore.DefaultListLimit
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed <= 0 {
			httpapi.Write(ctx, rw, http.StatusBadRequest, notifysdk.Response{
				Message: "Query parameter \"limit\" must be a positive integer.",
			})
			return
		}
		limit = parsed
	}

	notifs, err := api.Store.ListRecent(ctx, identity.UserID, limit)
	if err != nil {
		api.Logger.Error(ctx, "list notifications", slog.F("user_id", identity.UserID), slog.Error(err))
		httpapi.Write(ctx, rw, http.StatusInternalServerError, notifysdk.Response{
			Message: "Failed to list notifications.",
		})
		return
	}
	unreadCount, err := api.Store.CountUnread(ctx, identity.UserID)
	if err != nil {
		api.Logger.Error(ctx, "count unread notifications", slog.F("user_id", identity.UserID), slog.Error(err))
		httpapi.Write(ctx, rw, http.StatusInternalServerError, notifysdk.Response{
			Message: "Failed to count unread notifications.",
		})
		return
	}

	httpapi.Write(ctx, rw, http.StatusOK, notifysdk.ListNotificationsResponse{
		Notifications: notifs,
		UnreadCount:   unreadCount,
	})
}

// updateNotificationReadStatus marks one of the caller's notifications as
// read. Unknown ids and other users' notifications are silent no-ops.
func (api *API) updateNotificationReadStatus(rw http.ResponseWriter, r *http.Request) {
	var (
		ctx      = r.Context()
		identity = httpmw.AuthenticatedIdentity(r)
		notifID  = chi.URLParam(r, "id")
	)

	err := api.Store.MarkRead(ctx, identity.UserID, notifID)
	if err != nil {
		api.Logger.Error(ctx, "mark notification read",
			slog.F("user_id", identity.UserID),
			slog.F("notification_id", notifID),
			slog.Error(err),
		)
		httpapi.Write(ctx, rw, http.StatusInternalServerError, notifysdk.Response{
			Message: "Failed to update notification read status.",
		})
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// sendNotification is the entry point business logic uses to notify users,
// e.g. "package purchased" or an admin broadcast to every seller.
func (api *API) sendNotification(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req notifysdk.SendNotificationRequest
	if !httpapi.Read(ctx, rw, r, &req) {
		return
	}
	if len(req.UserIDs) == 0 && req.UserType == "" {
		httpapi.Write(ctx, rw, http.StatusBadRequest, notifysdk.Response{
			Message: "One of \"user_ids\" or \"user_type\" must be provided.",
		})
		return
	}
	if req.Kind != "" && !req.Kind.Valid() {
		httpapi.Write(ctx, rw, http.StatusBadRequest, notifysdk.Response{
			Message: "Field \"kind\" must be one of info, success, warning or error.",
		})
		return
	}

	if len(req.UserIDs) > 0 {
		res := api.Engine.NotifyUsers(ctx, req.UserIDs, req.Title, req.Message, req.Kind)
		httpapi.Write(ctx, rw, http.StatusOK, notifysdk.SendNotificationResponse{
			Sent:   res.Sent,
			Failed: res.Failed,
		})
		return
	}

	res, err := api.Engine.NotifyUserType(ctx, req.UserType, req.Title, req.Message, req.Kind)
	if err != nil {
		api.Logger.Error(ctx, "notify user type", slog.F("user_type", req.UserType), slog.Error(err))
		httpapi.Write(ctx, rw, http.StatusInternalServerError, notifysdk.Response{
			Message: "Failed to resolve notification audience.",
		})
		return
	}
	httpapi.Write(ctx, rw, http.StatusOK, notifysdk.SendNotificationResponse{
		Sent:   res.Sent,
		Failed: res.Failed,
	})
}
