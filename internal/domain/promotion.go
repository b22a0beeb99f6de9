package domain

// PromotionState is derived from the live and candidate tags of a run.
type PromotionState string

const (
	PromotionNone      PromotionState = "none"
	PromotionCandidate PromotionState = "candidate"
	PromotionLive      PromotionState = "live"
	PromotionRetired   PromotionState = "retired"
)

// DerivePromotionState infers a run's state from its tags. A live tag wins
// over a candidate tag; a run that carries either tag with a false value and
// nothing true is retired.
func DerivePromotionState(run Run, liveTag, candidateTag string) PromotionState {
	if run.HasTag(liveTag, TagTrue) {
		return PromotionLive
	}
	if run.HasTag(candidateTag, TagTrue) {
		return PromotionCandidate
	}
	_, hasLive := run.Tag(liveTag)
	_, hasCandidate := run.Tag(candidateTag)
	if hasLive || hasCandidate {
		return PromotionRetired
	}
	return PromotionNone
}
