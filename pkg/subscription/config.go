package subscription

// Config carries the policy knobs the engine consults. It is injected at
// construction; nothing in the package reads configuration ambiently.
type Config struct {
	// GracePeriodDays is the window after EndsAt during which access is
	// retained pending renewal. Zero disables grace entirely.
	GracePeriodDays int `env:"SUBSCRIPTION_GRACE_PERIOD_DAYS" envDefault:"3"`

	// Trial bounds and the length used when a trial is requested without an
	// explicit duration.
	TrialMinDays     int `env:"SUBSCRIPTION_TRIAL_MIN_DAYS" envDefault:"1"`
	TrialMaxDays     int `env:"SUBSCRIPTION_TRIAL_MAX_DAYS" envDefault:"90"`
	DefaultTrialDays int `env:"SUBSCRIPTION_TRIAL_DEFAULT_DAYS" envDefault:"14"`

	// AutoRenewDefault is applied to new subscriptions unless overridden per
	// call with WithAutoRenew.
	AutoRenewDefault bool `env:"SUBSCRIPTION_AUTO_RENEW_DEFAULT" envDefault:"true"`

	// AllowMultipleTrials permits a subscriber to trial the same plan more
	// than once.
	AllowMultipleTrials bool `env:"SUBSCRIPTION_ALLOW_MULTIPLE_TRIALS" envDefault:"false"`

	// Plan-change policy.
	AllowDowngrade                  bool `env:"SUBSCRIPTION_ALLOW_DOWNGRADE" envDefault:"true"`
	PreventDowngradeWithExcessUsage bool `env:"SUBSCRIPTION_PREVENT_DOWNGRADE_WITH_EXCESS_USAGE" envDefault:"true"`
	ResetUsageOnPlanChange          bool `env:"SUBSCRIPTION_RESET_USAGE_ON_PLAN_CHANGE" envDefault:"false"`
}

// DefaultConfig returns the same values the env defaults would produce,
// for tests and embedded use without environment plumbing.
func DefaultConfig() Config {
	return Config{
		GracePeriodDays:                 3,
		TrialMinDays:                    1,
		TrialMaxDays:                    90,
		DefaultTrialDays:                14,
		AutoRenewDefault:                true,
		AllowMultipleTrials:             false,
		AllowDowngrade:                  true,
		PreventDowngradeWithExcessUsage: true,
		ResetUsageOnPlanChange:          false,
	}
}
