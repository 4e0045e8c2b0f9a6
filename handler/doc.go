// Package handler turns typed request handlers into http.HandlerFunc values.
//
// A handler receives a Context and an already bound request value and returns a
// Response. Binders run in order before the handler; a binder that does not
// apply to the request returns ErrBinderNotApplicable and is skipped. Errors
// from binding or rendering go to the configured ErrorHandler, which answers
// with the JSON error envelope:
//
//	{"error": {"code": "limit_reached", "message": "...", "details": {...}}}
//
// Usage:
//
//	type ChangeRequest struct {
//		Tier string `json:"tier" validate:"required,oneof=basic pro premium ultimate"`
//	}
//
//	change := handler.HandlerFunc[handler.Context, ChangeRequest](
//		func(ctx handler.Context, req ChangeRequest) handler.Response {
//			info, err := svc.ScheduleChange(ctx, userID, subscription.Tier(req.Tier))
//			if err != nil {
//				return handler.JSONError(err)
//			}
//			return handler.JSON(info)
//		},
//	)
//
//	r.Post("/subscription/change", handler.Wrap(change,
//		handler.WithBinders[handler.Context, ChangeRequest](handler.JSONBody(), handler.Validate(v)),
//		handler.WithErrorHandler[handler.Context, ChangeRequest](handler.NewErrorHandler(log)),
//	))
//
// Server-sent event streams are built with SSE, which wraps the datastar
// generator and exposes signal patches through StreamContext.
package handler
