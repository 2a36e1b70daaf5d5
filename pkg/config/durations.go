package config

import (
	"time"

	"github.com/mabumohsen/veggieshop-sub000/pkg/consistency"
	"github.com/mabumohsen/veggieshop-sub000/pkg/eventbus"
	"github.com/mabumohsen/veggieshop-sub000/pkg/hmacauth"
	"github.com/mabumohsen/veggieshop-sub000/pkg/outbox"
	"github.com/mabumohsen/veggieshop-sub000/pkg/ratelimit"
	"github.com/mabumohsen/veggieshop-sub000/pkg/stepup"
)

// ToOptions maps directly onto consistency.Options; no duration parsing
// is needed since the engine already speaks millisecond integers.
func (c ConsistencyConfig) ToOptions() consistency.Options {
	return consistency.Options{
		TokenTTLMillis:       c.TokenTTLMillis,
		ClockSkewMillis:      c.ClockSkewMillis,
		RYWInitialPollMillis: c.RYWInitialPollMillis,
		RYWMaxPollMillis:     c.RYWMaxPollMillis,
		RYWMaxWaitMillis:     c.RYWMaxWaitMillis,
	}
}

// TTL parses IdempotencyConfig.RecordTTL.
func (c IdempotencyConfig) TTL() (time.Duration, error) {
	return time.ParseDuration(c.RecordTTL)
}

// TTL parses DedupeConfig.WindowTTL.
func (c DedupeConfig) TTL() (time.Duration, error) {
	return time.ParseDuration(c.WindowTTL)
}

// ToOptions parses OutboxConfig's duration fields into outbox.Options.
func (c OutboxConfig) ToOptions() (outbox.Options, error) {
	initialBackoff, err := time.ParseDuration(c.InitialBackoff)
	if err != nil {
		return outbox.Options{}, err
	}
	maxBackoff, err := time.ParseDuration(c.MaxBackoff)
	if err != nil {
		return outbox.Options{}, err
	}
	publishedRetention, err := time.ParseDuration(c.PublishedRetention)
	if err != nil {
		return outbox.Options{}, err
	}
	return outbox.Options{
		BatchSize:           c.BatchSize,
		InitialBackoff:      initialBackoff,
		BackoffMultiplier:   c.BackoffMultiplier,
		MaxBackoff:          maxBackoff,
		QuarantineThreshold: c.QuarantineThreshold,
		PublishedRetention:  publishedRetention,
	}, nil
}

// ToOptions parses ProducerConfig's duration fields into eventbus.Options.
func (c ProducerConfig) ToOptions() (eventbus.Options, error) {
	sendTimeout, err := time.ParseDuration(c.SendTimeout)
	if err != nil {
		return eventbus.Options{}, err
	}
	initialBackoff, err := time.ParseDuration(c.InitialBackoff)
	if err != nil {
		return eventbus.Options{}, err
	}
	maxBackoff, err := time.ParseDuration(c.MaxBackoff)
	if err != nil {
		return eventbus.Options{}, err
	}
	return eventbus.Options{
		MaxAttempts:       c.MaxAttempts,
		SendTimeout:       sendTimeout,
		InitialBackoff:    initialBackoff,
		BackoffMultiplier: c.BackoffMultiplier,
		MaxBackoff:        maxBackoff,
		JitterRatio:       c.JitterRatio,
	}, nil
}

// ToOptions parses StepUpConfig's duration fields into stepup.Options.
func (c StepUpConfig) ToOptions() (stepup.Options, error) {
	challengeTTL, err := time.ParseDuration(c.ChallengeTTL)
	if err != nil {
		return stepup.Options{}, err
	}
	minElevation, err := time.ParseDuration(c.MinElevation)
	if err != nil {
		return stepup.Options{}, err
	}
	maxElevation, err := time.ParseDuration(c.MaxElevation)
	if err != nil {
		return stepup.Options{}, err
	}
	approvalTTL, err := time.ParseDuration(c.ApprovalTTL)
	if err != nil {
		return stepup.Options{}, err
	}
	return stepup.Options{
		ChallengeTTL:  challengeTTL,
		MinElevation:  minElevation,
		MaxElevation:  maxElevation,
		ApprovalTTL:   approvalTTL,
		MinJustifyLen: c.MinJustifyLen,
	}, nil
}

// ToPolicy parses RateLimitConfig's duration field into the default
// ratelimit.Policy; MaxBuckets/IdleEvictAfter are consumed separately by
// ratelimit.NewLimiter.
func (c RateLimitConfig) ToPolicy() (ratelimit.Policy, error) {
	refillPeriod, err := time.ParseDuration(c.RefillPeriod)
	if err != nil {
		return ratelimit.Policy{}, err
	}
	return ratelimit.Policy{
		Capacity:     c.Capacity,
		RefillTokens: c.RefillTokens,
		RefillPeriod: refillPeriod,
	}, nil
}

// IdleEvictAfterDuration parses RateLimitConfig.IdleEvictAfter.
func (c RateLimitConfig) IdleEvictAfterDuration() (time.Duration, error) {
	return time.ParseDuration(c.IdleEvictAfter)
}

// ToOptions parses HMACConfig's duration fields into hmacauth.Options.
func (c HMACConfig) ToOptions() (hmacauth.Options, error) {
	clockSkew, err := time.ParseDuration(c.ClockSkew)
	if err != nil {
		return hmacauth.Options{}, err
	}
	nonceTTL, err := time.ParseDuration(c.NonceTTL)
	if err != nil {
		return hmacauth.Options{}, err
	}
	return hmacauth.Options{
		ClockSkew:         clockSkew,
		MaxBodyBytes:      c.MaxBodyBytes,
		EnforceBodySHA256: c.EnforceBodySHA256,
		NonceTTL:          nonceTTL,
		AlgLabel:          c.AlgLabel,
	}, nil
}
