package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

func usageTask(desc string, hours float64) model.Task {
	return model.Task{
		ID:             desc,
		Description:    desc,
		SystemID:       "engine",
		FrequencyValue: &hours,
		FrequencyUnit:  model.UnitHours,
		FrequencyBasis: model.BasisUsage,
	}
}

func calendarTask(desc string, months float64) model.Task {
	return model.Task{
		ID:             desc,
		Description:    desc,
		SystemID:       "engine",
		FrequencyValue: &months,
		FrequencyUnit:  model.UnitMonths,
		FrequencyBasis: model.BasisCalendar,
	}
}

func conditionTask(desc, taskType string) model.Task {
	return model.Task{
		ID:             desc,
		Description:    desc,
		SystemID:       "engine",
		FrequencyBasis: model.BasisCondition,
		TaskType:       taskType,
	}
}

func TestClassify_AutoMergeFrequencyMatch(t *testing.T) {
	// "Replace fuel filter every 500 hours" vs "Change fuel filter
	// element every 500 operating hours", similarity 0.94.
	a := usageTask("Replace fuel filter every 500 hours", 500)
	b := usageTask("Change fuel filter element every 500 operating hours", 500)

	res, err := Classify(LiveInsertConfig(), a, b, 0.94)
	require.NoError(t, err)
	assert.Equal(t, VerdictAutoMerge, res.Verdict)
	assert.Equal(t, model.ReasonFrequencyMatch, res.Reason)
}

func TestClassify_HighSimilarityFrequencyMismatch(t *testing.T) {
	// Anode inspection at 6 vs 12 months: 4380h vs 8760h differ by 66%,
	// far outside the 20% band, but 0.96 similarity still demands review.
	a := calendarTask("Inspect anode every 6 months", 6)
	b := calendarTask("Inspect anode every 12 months", 12)

	res, err := Classify(LiveInsertConfig(), a, b, 0.96)
	require.NoError(t, err)
	assert.Equal(t, VerdictReview, res.Verdict)
	assert.Equal(t, model.ReasonFrequencyMismatch, res.Reason)
}

func TestClassify_CompoundMatchConditionBased(t *testing.T) {
	// Two condition-based tasks at 0.81 with disagreeing types: the
	// sentinel-equal schedules rescue it into review in the live config.
	a := conditionTask("Clean sea strainer as needed", "cleaning")
	b := conditionTask("Clear raw water strainer when fouled", "inspection")

	res, err := Classify(LiveInsertConfig(), a, b, 0.81)
	require.NoError(t, err)
	assert.Equal(t, VerdictReview, res.Verdict)
	assert.Equal(t, model.ReasonCompoundMatch, res.Reason)
}

func TestClassify_StrictConfigExcludesTypeMismatch(t *testing.T) {
	a := conditionTask("Clean sea strainer as needed", "cleaning")
	b := conditionTask("Clear raw water strainer when fouled", "inspection")

	// Even at 0.95 the strict batch config drops the pair entirely.
	res, err := Classify(BatchAnalysisConfig(), a, b, 0.95)
	require.NoError(t, err)
	assert.Equal(t, VerdictInsert, res.Verdict)
	assert.Equal(t, model.ReasonTypeMismatch, res.Reason)
}

func TestClassify_StrictConfigMissingTypeDoesNotBlock(t *testing.T) {
	a := usageTask("Grease steering gear", 500)
	b := usageTask("Lubricate steering gear", 500)
	a.TaskType = "lubrication"

	res, err := Classify(BatchAnalysisConfig(), a, b, 0.93)
	require.NoError(t, err)
	assert.Equal(t, VerdictAutoMerge, res.Verdict)
}

func TestClassify_LowSimilarityInserts(t *testing.T) {
	a := usageTask("Replace impeller", 500)
	b := usageTask("Check oil level", 500)

	res, err := Classify(LiveInsertConfig(), a, b, 0.60)
	require.NoError(t, err)
	assert.Equal(t, VerdictInsert, res.Verdict)
	assert.Equal(t, model.ReasonBelowThreshold, res.Reason)
}

func TestClassify_ModerateSimilarityNoSupportInserts(t *testing.T) {
	// In [compound, review) with a frequency mismatch there is nothing
	// to rescue the pair.
	a := usageTask("Service winch", 100)
	b := usageTask("Service windlass", 1000)

	res, err := Classify(LiveInsertConfig(), a, b, 0.82)
	require.NoError(t, err)
	assert.Equal(t, VerdictInsert, res.Verdict)
}

func TestClassify_BothNullFrequency(t *testing.T) {
	a := model.Task{ID: "a", Description: "Inspect hull zincs", SystemID: "hull", FrequencyBasis: model.BasisCalendar}
	b := model.Task{ID: "b", Description: "Check hull anodes", SystemID: "hull", FrequencyBasis: model.BasisCalendar}

	// Missing data on both sides does not block a clear duplicate.
	res, err := Classify(LiveInsertConfig(), a, b, 0.90)
	require.NoError(t, err)
	assert.Equal(t, VerdictReview, res.Verdict)
	assert.Equal(t, model.ReasonNoFrequency, res.Reason)

	// But an unconfirmed schedule never auto-merges.
	res, err = Classify(LiveInsertConfig(), a, b, 0.95)
	require.NoError(t, err)
	assert.Equal(t, VerdictReview, res.Verdict)
	assert.Equal(t, model.ReasonNoFrequency, res.Reason)
}

func TestClassify_AsymmetricNullIsMismatch(t *testing.T) {
	a := usageTask("Replace raw water impeller", 500)
	b := model.Task{ID: "b", Description: "Replace impeller", SystemID: "engine", FrequencyBasis: model.BasisUsage}

	// One-sided missing data is insufficient evidence: at compound-range
	// similarity the pair inserts instead of matching.
	res, err := Classify(LiveInsertConfig(), a, b, 0.83)
	require.NoError(t, err)
	assert.Equal(t, VerdictInsert, res.Verdict)

	// At review-range similarity it surfaces with the mismatch reason.
	res, err = Classify(LiveInsertConfig(), a, b, 0.88)
	require.NoError(t, err)
	assert.Equal(t, VerdictReview, res.Verdict)
	assert.Equal(t, model.ReasonFrequencyMismatch, res.Reason)
}

func TestClassify_ScheduleFreeAutoMerge(t *testing.T) {
	a := conditionTask("Replace sacrificial anode when depleted", "replacement")
	b := conditionTask("Renew anode when worn", "replacement")

	res, err := Classify(LiveInsertConfig(), a, b, 0.93)
	require.NoError(t, err)
	assert.Equal(t, VerdictAutoMerge, res.Verdict)
	assert.Equal(t, model.ReasonNoSchedule, res.Reason)
}

func TestClassify_ScopeMismatchIsLogicFault(t *testing.T) {
	a := usageTask("Replace fuel filter", 500)
	b := usageTask("Replace fuel filter", 500)
	b.SystemID = "genset"

	_, err := Classify(LiveInsertConfig(), a, b, 0.99)
	require.Error(t, err)
	var sme *ScopeMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, "engine", sme.SystemA)
	assert.Equal(t, "genset", sme.SystemB)
}

func TestClassify_Symmetric(t *testing.T) {
	cfg := LiveInsertConfig()
	pairs := []struct{ a, b model.Task }{
		{usageTask("a", 500), usageTask("b", 520)},
		{calendarTask("a", 6), calendarTask("b", 12)},
		{conditionTask("a", "x"), usageTask("b", 500)},
		{conditionTask("a", "x"), conditionTask("b", "y")},
		{usageTask("a", 500), model.Task{ID: "b", SystemID: "engine", FrequencyBasis: model.BasisUsage}},
	}
	for _, p := range pairs {
		for _, s := range []float64{0.60, 0.81, 0.88, 0.94} {
			ab, err := Classify(cfg, p.a, p.b, s)
			require.NoError(t, err)
			ba, err := Classify(cfg, p.b, p.a, s)
			require.NoError(t, err)
			assert.Equal(t, ab.Verdict, ba.Verdict, "verdict must be symmetric (%s vs %s at %.2f)", p.a.ID, p.b.ID, s)
			assert.Equal(t, ab.Similarity, ba.Similarity)
		}
	}
}

func TestClassify_ThresholdMonotonicity(t *testing.T) {
	a := usageTask("Replace fuel filter", 500)
	b := usageTask("Change fuel filter", 500)

	base := LiveInsertConfig()
	res, err := Classify(base, a, b, 0.93)
	require.NoError(t, err)
	require.Equal(t, VerdictAutoMerge, res.Verdict)

	// Raising AUTO can only demote auto_merge to review_required.
	raised := base
	raised.AutoMergeThreshold = 0.95
	res, err = Classify(raised, a, b, 0.93)
	require.NoError(t, err)
	assert.Equal(t, VerdictReview, res.Verdict)

	// And never promotes anything the other way.
	for _, s := range []float64{0.70, 0.82, 0.88, 0.93, 0.97} {
		lo, err := Classify(base, a, b, s)
		require.NoError(t, err)
		hi, err := Classify(raised, a, b, s)
		require.NoError(t, err)
		if hi.Verdict == VerdictAutoMerge {
			assert.Equal(t, VerdictAutoMerge, lo.Verdict)
		}
	}
}

func TestClassify_NegativeSimilarityClips(t *testing.T) {
	a := usageTask("a", 500)
	b := usageTask("b", 500)
	res, err := Classify(LiveInsertConfig(), a, b, -0.4)
	require.NoError(t, err)
	assert.Equal(t, VerdictInsert, res.Verdict)
	assert.Equal(t, 0.0, res.Similarity)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, LiveInsertConfig().Validate())
	require.NoError(t, BatchAnalysisConfig().Validate())

	bad := LiveInsertConfig()
	bad.ReviewThreshold = 0.95
	require.Error(t, bad.Validate())

	bad = LiveInsertConfig()
	bad.AutoMergeThreshold = 1.5
	require.Error(t, bad.Validate())
}
