// Package logging builds the zap logger trojanlite runs with. It keeps
// the emoji-prefixed, human-scannable message style the proxy has always
// used for its handful of really-want-a-human-to-notice events, while
// leaving everything else to zap's structured fields.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style logger at the given level ("debug",
// "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// ConnectionAccepted logs the one-line banner every accepted connection
// gets, in the proxy's long-standing 🔹 style.
func ConnectionAccepted(log *zap.Logger, remote, sni string) {
	log.Info("🔹 connection accepted", zap.String("remote", remote), zap.String("sni", sni))
}

// LiteTLSEngaged logs that a connection successfully left the TLS record
// layer and is now relaying as plain TCP.
func LiteTLSEngaged(log *zap.Logger, remote string) {
	log.Info("✅ lite-tls engaged, relaying plaintext", zap.String("remote", remote))
}

// LiteTLSFellBack logs that a connection could not complete the Lite-TLS
// handshake boundary and fell back to a plain TLS relay.
func LiteTLSFellBack(log *zap.Logger, remote string, reason error) {
	log.Warn("⚠️ lite-tls unavailable, falling back to tls relay", zap.String("remote", remote), zap.Error(reason))
}

// AuthFailed logs a rejected password, the event that triggers the
// fallback-to-plain-site defense.
func AuthFailed(log *zap.Logger, remote string) {
	log.Warn("❌ authentication failed, relaying to fallback site", zap.String("remote", remote))
}
