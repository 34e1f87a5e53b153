package pruning_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/prunekeeper/internal/pruning"
	"github.com/temirov/prunekeeper/internal/pruning/testsupport"
)

const (
	testRepositoryPathConstant       = "/work/sample"
	testDefaultBranchConstant        = "master"
	testMergedBranchConstant         = "merged-branch-2"
	testUnmergedBranchConstant       = "not-merged-branch-1"
	testFeatureBranchConstant        = "feature/login"
	testReleaseBranchConstant        = "release/1.2"
	testRootCommitConstant           = "c0"
	testDefaultTipCommitConstant     = "c2"
	testMergedTipCommitConstant      = "c1"
	testUnmergedTipCommitConstant    = "u1"
	testFeatureTipCommitConstant     = "f1"
	testReleaseTipCommitConstant     = "r1"
	testReleasePatternConstant       = "release/**"
	testInvalidPatternConstant       = "release/[unterminated"
	testExclusionCurrentCaseConstant = "current_branch_retained"
)

var testNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

// newSampleGateway builds the graph c0 <- c1 <- c2 (master), with merged-branch-2
// at c1 and not-merged-branch-1 at u1 (child of c0).
func newSampleGateway() *testsupport.MemoryGateway {
	gateway := testsupport.NewMemoryGateway()
	gateway.AddCommit(testRootCommitConstant).
		AddCommit(testMergedTipCommitConstant, testRootCommitConstant).
		AddCommit(testDefaultTipCommitConstant, testMergedTipCommitConstant).
		AddCommit(testUnmergedTipCommitConstant, testRootCommitConstant)
	gateway.AddBranch(testDefaultBranchConstant, testDefaultTipCommitConstant, testNow.Add(-time.Hour)).
		AddBranch(testUnmergedBranchConstant, testUnmergedTipCommitConstant, testNow.Add(-time.Hour)).
		AddBranch(testMergedBranchConstant, testMergedTipCommitConstant, testNow.Add(-time.Hour)).
		Checkout(testDefaultBranchConstant)
	return gateway
}

func evaluationInput(branches []pruning.Branch, currentBranchName string) pruning.EvaluationInput {
	return pruning.EvaluationInput{
		RepositoryPath:    testRepositoryPathConstant,
		Branches:          branches,
		CurrentBranchName: currentBranchName,
		DefaultBranchName: testDefaultBranchConstant,
		Now:               testNow,
	}
}

func listBranches(testInstance *testing.T, gateway *testsupport.MemoryGateway) []pruning.Branch {
	testInstance.Helper()
	branches, listError := gateway.ListBranches(context.Background(), testRepositoryPathConstant)
	require.NoError(testInstance, listError)
	return branches
}

func TestNewEngineValidation(testInstance *testing.T) {
	testCases := []struct {
		name        string
		ancestry    pruning.AncestryChecker
		policy      pruning.EligibilityPolicy
		expectError error
		expectText  string
	}{
		{
			name:        "missing_ancestry_checker",
			expectError: pruning.ErrAncestryCheckerNotConfigured,
		},
		{
			name:       "invalid_pattern",
			ancestry:   testsupport.NewMemoryGateway(),
			policy:     pruning.EligibilityPolicy{ProtectedPatterns: []string{testInvalidPatternConstant}},
			expectText: testInvalidPatternConstant,
		},
		{
			name:     "blank_patterns_ignored",
			ancestry: testsupport.NewMemoryGateway(),
			policy:   pruning.EligibilityPolicy{ProtectedPatterns: []string{"  ", testReleasePatternConstant}},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			engine, creationError := pruning.NewEngine(testCase.ancestry, testCase.policy)
			switch {
			case testCase.expectError != nil:
				require.ErrorIs(testInstance, creationError, testCase.expectError)
			case len(testCase.expectText) > 0:
				require.Error(testInstance, creationError)
				require.Contains(testInstance, creationError.Error(), testCase.expectText)
			default:
				require.NoError(testInstance, creationError)
				require.NotNil(testInstance, engine)
			}
		})
	}
}

func TestEngineEvaluateSelectsOnlyMergedBranches(testInstance *testing.T) {
	gateway := newSampleGateway()
	engine, creationError := pruning.NewEngine(gateway, pruning.EligibilityPolicy{})
	require.NoError(testInstance, creationError)

	decision := engine.Evaluate(context.Background(), evaluationInput(listBranches(testInstance, gateway), testDefaultBranchConstant))

	require.Equal(testInstance, []string{testMergedBranchConstant}, pruning.BranchNames(decision.ToDelete))
	require.Equal(testInstance, pruning.ExclusionDefault, decision.Reasons[testDefaultBranchConstant])
	require.Equal(testInstance, pruning.ExclusionNotMerged, decision.Reasons[testUnmergedBranchConstant])
	require.Empty(testInstance, decision.Failures)
}

func TestEngineEvaluateExclusions(testInstance *testing.T) {
	testCases := []struct {
		name           string
		currentBranch  string
		policy         pruning.EligibilityPolicy
		checkouts      []pruning.BranchCheckout
		inspectBranch  string
		expectedReason pruning.ExclusionReason
	}{
		{
			name:           testExclusionCurrentCaseConstant,
			currentBranch:  testMergedBranchConstant,
			inspectBranch:  testMergedBranchConstant,
			expectedReason: pruning.ExclusionCurrent,
		},
		{
			name:           "default_branch_retained_even_when_current_elsewhere",
			currentBranch:  testMergedBranchConstant,
			inspectBranch:  testDefaultBranchConstant,
			expectedReason: pruning.ExclusionDefault,
		},
		{
			name:           "protected_pattern_retained",
			currentBranch:  testDefaultBranchConstant,
			policy:         pruning.EligibilityPolicy{ProtectedPatterns: []string{testReleasePatternConstant}},
			inspectBranch:  testReleaseBranchConstant,
			expectedReason: pruning.ExclusionProtected,
		},
		{
			name:          "recently_checked_out_retained",
			currentBranch: testDefaultBranchConstant,
			policy:        pruning.EligibilityPolicy{RecentActivityWindow: 14 * 24 * time.Hour},
			checkouts: []pruning.BranchCheckout{
				{BranchName: testFeatureBranchConstant, CheckedOut: testNow.Add(-48 * time.Hour)},
			},
			inspectBranch:  testFeatureBranchConstant,
			expectedReason: pruning.ExclusionRecentlyActive,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			gateway := newSampleGateway()
			gateway.AddCommit(testFeatureTipCommitConstant, testRootCommitConstant).
				AddCommit(testReleaseTipCommitConstant, testRootCommitConstant).
				AddBranch(testFeatureBranchConstant, testRootCommitConstant, testNow).
				AddBranch(testReleaseBranchConstant, testRootCommitConstant, testNow)

			engine, creationError := pruning.NewEngine(gateway, testCase.policy)
			require.NoError(testInstance, creationError)

			input := evaluationInput(listBranches(testInstance, gateway), testCase.currentBranch)
			input.RecentCheckouts = testCase.checkouts
			decision := engine.Evaluate(context.Background(), input)

			require.Equal(testInstance, testCase.expectedReason, decision.Reasons[testCase.inspectBranch])
			require.NotContains(testInstance, pruning.BranchNames(decision.ToDelete), testCase.inspectBranch)
			require.NotContains(testInstance, pruning.BranchNames(decision.ToDelete), testDefaultBranchConstant)
		})
	}
}

func TestEngineEvaluateIgnoresStaleCheckouts(testInstance *testing.T) {
	gateway := newSampleGateway()
	engine, creationError := pruning.NewEngine(gateway, pruning.EligibilityPolicy{RecentActivityWindow: 14 * 24 * time.Hour})
	require.NoError(testInstance, creationError)

	input := evaluationInput(listBranches(testInstance, gateway), testDefaultBranchConstant)
	input.RecentCheckouts = []pruning.BranchCheckout{
		{BranchName: testMergedBranchConstant, CheckedOut: testNow.Add(-30 * 24 * time.Hour)},
	}
	decision := engine.Evaluate(context.Background(), input)

	require.Equal(testInstance, []string{testMergedBranchConstant}, pruning.BranchNames(decision.ToDelete))
}

func TestEngineEvaluateRetainsBranchWhenAncestryFails(testInstance *testing.T) {
	ancestryFailure := errors.New("object database corrupted")
	gateway := newSampleGateway()
	gateway.FailAncestry(testMergedTipCommitConstant, ancestryFailure)

	engine, creationError := pruning.NewEngine(gateway, pruning.EligibilityPolicy{})
	require.NoError(testInstance, creationError)

	decision := engine.Evaluate(context.Background(), evaluationInput(listBranches(testInstance, gateway), testDefaultBranchConstant))

	require.Empty(testInstance, decision.ToDelete)
	require.Equal(testInstance, pruning.ExclusionAncestryUndetermined, decision.Reasons[testMergedBranchConstant])

	var ancestryError pruning.AncestryError
	require.ErrorAs(testInstance, decision.Failures[testMergedBranchConstant], &ancestryError)
	require.Equal(testInstance, testMergedBranchConstant, ancestryError.BranchName)
	require.ErrorIs(testInstance, ancestryError, ancestryFailure)
}

func TestEngineEvaluateRetainsEverythingWithoutDefaultBranch(testInstance *testing.T) {
	gateway := newSampleGateway()
	engine, creationError := pruning.NewEngine(gateway, pruning.EligibilityPolicy{})
	require.NoError(testInstance, creationError)

	input := evaluationInput(listBranches(testInstance, gateway), testDefaultBranchConstant)
	input.DefaultBranchName = "main"
	decision := engine.Evaluate(context.Background(), input)

	require.Empty(testInstance, decision.ToDelete)
	require.Len(testInstance, decision.Retained, 3)
	for _, branch := range decision.Retained {
		require.Equal(testInstance, pruning.ExclusionDefaultBranchMissing, decision.Reasons[branch.Name])
	}
	for _, call := range gateway.Calls() {
		require.NotEqual(testInstance, "IsAncestor", call.Operation)
	}
}

func TestEngineEvaluateIsIdempotent(testInstance *testing.T) {
	gateway := newSampleGateway()
	engine, creationError := pruning.NewEngine(gateway, pruning.EligibilityPolicy{ProtectedPatterns: []string{testReleasePatternConstant}})
	require.NoError(testInstance, creationError)

	input := evaluationInput(listBranches(testInstance, gateway), testDefaultBranchConstant)
	first := engine.Evaluate(context.Background(), input)
	second := engine.Evaluate(context.Background(), input)

	require.Equal(testInstance, first, second)
}

func TestEngineEvaluateNeverSelectsCurrentOrDefault(testInstance *testing.T) {
	gateway := newSampleGateway()
	engine, creationError := pruning.NewEngine(gateway, pruning.EligibilityPolicy{})
	require.NoError(testInstance, creationError)

	branches := listBranches(testInstance, gateway)
	for _, current := range pruning.BranchNames(branches) {
		decision := engine.Evaluate(context.Background(), evaluationInput(branches, current))
		selected := pruning.BranchNames(decision.ToDelete)
		require.NotContains(testInstance, selected, current)
		require.NotContains(testInstance, selected, testDefaultBranchConstant)
	}
}
