// Package logger builds the service's *slog.Logger.
//
// New assembles a text or JSON slog handler from functional options and wraps
// it with a decorator that pulls request-scoped values (request id, user id)
// out of the context on every record. Use the *Context logging methods
// (InfoContext, ErrorContext, ...) so extractors see the request context.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "pixelmint"),
//		logger.WithContextExtractors(requestid.LoggerExtractor(), identity.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "usage incremented", logger.Feature("generator"), logger.Tier("pro"))
//
// Attribute helpers keep key names consistent across packages.
package logger
