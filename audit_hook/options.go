package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger used to report recorder failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithEnabledActions records only the given actions. Calling it again
// replaces the previous set.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.filter.actions = setOf(actions)
	}
}

// WithDisabledActions skips the given actions. It narrows whatever set is
// already enabled, or every known action when none was chosen.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.filter.actions == nil {
			e.filter.actions = setOf(allActions())
		}
		for _, action := range actions {
			delete(e.filter.actions, action)
		}
	}
}

// WithCategories records only events in the given categories, for example
// CategoryIntegrity alone for an alerting sink.
func WithCategories(categories ...string) Option {
	return func(e *Extension) {
		e.filter.categories = setOf(categories)
	}
}

// WithTenancies records only events of the given tenancies.
func WithTenancies(tenancyIDs ...string) Option {
	return func(e *Extension) {
		e.filter.tenancies = setOf(tenancyIDs)
	}
}

// filter decides which events reach the recorder. A nil set admits all.
type filter struct {
	actions    map[string]bool
	categories map[string]bool
	tenancies  map[string]bool
}

func (f filter) admits(action, category, tenancyID string) bool {
	return admitted(f.actions, action) &&
		admitted(f.categories, category) &&
		admitted(f.tenancies, tenancyID)
}

func admitted(set map[string]bool, key string) bool {
	return set == nil || set[key]
}

func setOf(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// allActions returns every action the extension records.
func allActions() []string {
	return []string{
		ActionProductVersionCreated,
		ActionDefaultsSnapshotCreated,
		ActionProductGranted,
		ActionPurchaseRefunded,
		ActionSubscriptionSwitched,
		ActionSubscriptionCanceled,
		ActionSubscriptionRenewed,
		ActionItemQuantityChanged,
		ActionDomainRuleViolated,
		ActionIntegrityViolation,
	}
}
