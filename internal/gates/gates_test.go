package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocking_ClassifiesExecVsTrack(t *testing.T) {
	assert.True(t, CheckTestSuite.Blocking())
	assert.True(t, CheckMultiModelReview.Blocking())
	assert.False(t, CheckSizeLimit.Blocking())
	assert.False(t, CheckPerformance.Blocking())
	assert.False(t, CheckCommitFormat.Blocking())
}

func TestApproved_TrueWhenNoBlockingFailures(t *testing.T) {
	results := map[ID]Result{
		CheckTestSuite: {Blocking: true, Verdict: VerdictPass},
		CheckSizeLimit: {Blocking: false, Verdict: VerdictWarn},
	}
	assert.True(t, Approved(results))
}

func TestApproved_FalseOnBlockingFail(t *testing.T) {
	results := map[ID]Result{
		CheckTestSuite: {Blocking: true, Verdict: VerdictFail},
	}
	assert.False(t, Approved(results))
}

func TestApproved_FalseOnBlockingSkip(t *testing.T) {
	results := map[ID]Result{
		CheckBuild: {Blocking: true, Verdict: VerdictSkip},
	}
	assert.False(t, Approved(results), "a blocking SKIP must fail approval")
}

func TestApproved_TrueOnNonBlockingSkip(t *testing.T) {
	results := map[ID]Result{
		CheckPerformance: {Blocking: false, Verdict: VerdictSkip},
	}
	assert.True(t, Approved(results))
}

func TestFailingBlocking_ReturnsOnlyBlockingNonPass(t *testing.T) {
	results := map[ID]Result{
		CheckTestSuite: {ID: CheckTestSuite, Blocking: true, Verdict: VerdictFail},
		CheckSizeLimit: {ID: CheckSizeLimit, Blocking: false, Verdict: VerdictWarn},
		CheckBuild:     {ID: CheckBuild, Blocking: true, Verdict: VerdictPass},
	}
	failing := FailingBlocking(results)
	if assert.Len(t, failing, 1) {
		assert.Equal(t, CheckTestSuite, failing[0].ID)
	}
}

func TestCheckMultiModelReview_EmptyDiffPasses(t *testing.T) {
	r := checkMultiModelReview(Workspace{DiffEmpty: true})
	assert.Equal(t, VerdictPass, r.Verdict)
}

func TestCheckMultiModelReview_QuorumMet(t *testing.T) {
	r := checkMultiModelReview(Workspace{ConsensusApprovals: 2, ConsensusTotal: 3})
	assert.Equal(t, VerdictPass, r.Verdict)
}

func TestCheckMultiModelReview_QuorumNotMet(t *testing.T) {
	r := checkMultiModelReview(Workspace{ConsensusApprovals: 1, ConsensusTotal: 3})
	assert.Equal(t, VerdictFail, r.Verdict)
}

func TestCheckMultiModelReview_NoVotesFails(t *testing.T) {
	r := checkMultiModelReview(Workspace{})
	assert.Equal(t, VerdictFail, r.Verdict)
}

func TestCheckBreakingChanges_NoGitContextPasses(t *testing.T) {
	r := checkBreakingChanges(Workspace{HasGitContext: false})
	assert.Equal(t, VerdictPass, r.Verdict)
}

func TestCheckCommitFormat_NoGitContextPasses(t *testing.T) {
	r := checkCommitFormat(Workspace{HasGitContext: false})
	assert.Equal(t, VerdictPass, r.Verdict)
}

func TestCheckSizeLimit_EmptyDirPasses(t *testing.T) {
	r := checkSizeLimit(Workspace{Dir: t.TempDir()})
	assert.Equal(t, VerdictPass, r.Verdict)
}

func TestEngine_RunProducesEveryRegisteredCheck(t *testing.T) {
	e := NewEngine()
	calls := 0
	e.Register(CheckTestSuite, func(ws Workspace) Result {
		calls++
		return Result{Verdict: VerdictPass}
	})
	results := e.Run(Workspace{Dir: t.TempDir(), DiffEmpty: true, HasGitContext: false})
	assert.Equal(t, 1, calls)
	assert.Len(t, results, 12)
	assert.Equal(t, VerdictPass, results[CheckTestSuite].Verdict)
	assert.True(t, results[CheckTestSuite].Blocking)
	assert.False(t, results[CheckSizeLimit].Blocking)
}

func TestIsConventionalCommit(t *testing.T) {
	assert.True(t, isConventionalCommit("feat: add thing\n"))
	assert.True(t, isConventionalCommit("fix(worker): handle nil\n"))
	assert.False(t, isConventionalCommit("did a thing\n"))
}

func TestParseCoveragePercent(t *testing.T) {
	pct, ok := parseCoveragePercent("ok  	pkg	0.003s	coverage: 87.5% of statements\n")
	assert.True(t, ok)
	assert.InDelta(t, 87.5, pct, 0.001)
}

func TestParseCoveragePercent_NoMatch(t *testing.T) {
	_, ok := parseCoveragePercent("ok pkg 0.003s\n")
	assert.False(t, ok)
}
