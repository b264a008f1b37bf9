// Package logger provides slog-based structured logging for the messaging
// engine: a factory with functional options and attribute helpers for the
// identifiers that recur across the delivery and realtime subsystems
// (event, guest, message, subscription).
//
// Attribute helpers return an empty Attr for nil/empty input, which slog
// drops silently, so call sites never need nil checks:
//
//	log.LogAttrs(ctx, slog.LevelInfo, "message delivered",
//		logger.MessageID(msgID),
//		logger.GuestID(guestID),
//		logger.Channel("sms"),
//	)
package logger
