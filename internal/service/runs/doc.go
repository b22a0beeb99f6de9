// Package runs resolves tag queries against the run registry.
//
// A lookup asks for the runs of one experiment that carry tag=value, ordered
// by end time with the most recent first, and returns the first identifier.
// Zero matches is a *domain.NotFoundError; callers must not fall back to an
// arbitrary model. More than one match is resolved by recency and logged as a
// warning, since at most one run is expected to hold the live tag.
package runs
