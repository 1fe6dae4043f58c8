// Package logging wraps zap with context-aware methods for curatord.
//
// Every method takes a context.Context and prepends the correlation fields
// found in it: the OpenTelemetry trace and span ids, the user id, the
// session id and the request id.
//
//	ctx = logging.WithUserID(ctx, "u-42")
//	ctx = logging.WithSessionID(ctx, "session_1700000000000_0a1b2c3d4")
//	logger.Info(ctx, "phase completed", zap.String("phase", "concept"))
//
// Output goes to stdout (JSON or console), to an OpenTelemetry log provider
// through the otelzap bridge, or both. Stdout output passes through a
// redacting encoder that masks sensitive keys such as api_key and values
// that look like bearer tokens. Levels below error are sampled per level;
// errors are never sampled. A custom trace level sits below debug.
//
// Tests use NewTestLogger, which records entries in memory and offers
// assertion helpers.
package logging
