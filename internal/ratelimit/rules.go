package ratelimit

import (
	"fmt"
	"time"

	"github.com/Proton-105/hydration-bot/internal/domain"
	"github.com/Proton-105/hydration-bot/pkg/config"
)

// Rules holds the parsed per-user command limit and the users exempt from it.
type Rules struct {
	limit     int
	window    time.Duration
	whitelist map[domain.UserID]struct{}
}

// NewRules parses cfg. extraWhitelist users (bot owners) are never limited.
func NewRules(cfg config.RateLimitConfig, extraWhitelist ...domain.UserID) (*Rules, error) {
	limit, window, err := parseRule(cfg.PerUser)
	if err != nil {
		return nil, fmt.Errorf("per-user rate limit: %w", err)
	}

	whitelist := make(map[domain.UserID]struct{}, len(cfg.Whitelist)+len(extraWhitelist))
	for _, id := range cfg.Whitelist {
		whitelist[domain.UserID(id)] = struct{}{}
	}
	for _, id := range extraWhitelist {
		whitelist[id] = struct{}{}
	}

	return &Rules{limit: limit, window: window, whitelist: whitelist}, nil
}

// IsWhitelisted reports whether the user bypasses rate limits.
func (r *Rules) IsWhitelisted(user domain.UserID) bool {
	_, ok := r.whitelist[user]
	return ok
}

// PerUserLimit returns the per-user limit and window.
func (r *Rules) PerUserLimit() (int, time.Duration) {
	return r.limit, r.window
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Window == "" {
		return 0, 0, fmt.Errorf("window duration is not set")
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	if window <= 0 || rule.Limit <= 0 {
		return 0, 0, fmt.Errorf("limit and window must be positive")
	}
	return rule.Limit, window, nil
}
