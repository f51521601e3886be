package workflow

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/scenegen/types"
)

type faultPlan struct {
	method    types.Method
	imageFail bool
	meshFail  bool
	sceneFail bool
	textTo3D  bool
	optimize  bool
}

func (p faultPlan) expectSuccess() bool {
	if p.meshFail || p.sceneFail {
		return false
	}
	switch p.method {
	case types.MethodImageFirst:
		return !p.imageFail
	case types.MethodModelFirst:
		return p.textTo3D
	default:
		return !p.imageFail || p.textTo3D
	}
}

func runFaultPlan(t *testing.T, p faultPlan) (*Report, Plan) {
	f := newFakes()
	f.mesh.textTo3D = p.textTo3D
	if p.imageFail {
		f.image.err = types.NewError(types.ErrGenerationFailed, "image failed")
	}
	if p.meshFail {
		f.mesh.err = types.NewError(types.ErrGenerationFailed, "mesh failed")
	}
	if p.sceneFail {
		f.scene.err = types.NewError(types.ErrAssembly, "import failed")
	}
	rep := newTestEngine(t, f).Run(context.Background(), Request{
		Description:        "property subject",
		Method:             p.method,
		EnableOptimization: Bool(p.optimize),
	})
	plan, _ := Select(p.method)
	return rep, plan
}

// 每个阶段恰好一个结果且顺序固定；SUCCEEDED 当且仅当所有必需阶段成功；
// 致命失败之后除 FINALIZATION 外都不再执行
func TestProperty_StageTableInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("report shape and outcome follow the stage plan", prop.ForAll(
		func(method types.Method, imageFail, meshFail, sceneFail, textTo3D, optimize bool) bool {
			p := faultPlan{method, imageFail, meshFail, sceneFail, textTo3D, optimize}
			rep, plan := runFaultPlan(t, p)

			if len(rep.Stages) != len(Stages) {
				t.Logf("expected %d stage results, got %d", len(Stages), len(rep.Stages))
				return false
			}
			allRequired := true
			fatalSeen := false
			for i, sr := range rep.Stages {
				if sr.Stage != Stages[i] || !sr.Status.Terminal() {
					t.Logf("stage %d: %s %s", i, sr.Stage, sr.Status)
					return false
				}
				if sr.Stage == StageFinalization {
					if sr.Status != StatusSucceeded {
						return false
					}
					continue
				}
				if fatalSeen && sr.Status != StatusSkipped {
					t.Logf("%s ran after a fatal failure: %s", sr.Stage, describe(rep))
					return false
				}
				required := plan.Requires(sr.Stage)
				if required && sr.Status != StatusSucceeded {
					allRequired = false
				}
				if required && sr.Status == StatusFailed {
					fatalSeen = true
				}
			}

			if (rep.Outcome == OutcomeSucceeded) != allRequired {
				t.Logf("outcome %s with allRequired=%v: %s", rep.Outcome, allRequired, describe(rep))
				return false
			}
			if (rep.Outcome == OutcomeSucceeded) != p.expectSuccess() {
				t.Logf("plan %+v: %s", p, describe(rep))
				return false
			}
			if rep.Outcome == OutcomeFailed && rep.Error == nil {
				return false
			}
			if !optimize && rep.Stage(StageOptimization).Status != StatusSkipped {
				return false
			}
			return true
		},
		gen.OneConstOf(types.MethodImageFirst, types.MethodModelFirst, types.MethodHybrid),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
