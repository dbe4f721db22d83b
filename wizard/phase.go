package wizard

// Phase is a state of the build session.
type Phase string

const (
	PhaseInit             Phase = "INIT"
	PhaseStealthProbe     Phase = "STEALTH_PROBE"
	PhaseGuidedAccess     Phase = "GUIDED_ACCESS"
	PhaseRecon            Phase = "RECON"
	PhaseInteractiveSolve Phase = "INTERACTIVE_SOLVE"
	PhaseAnalysis         Phase = "LLM_ANALYSIS"
	PhaseUserConfig       Phase = "USER_CONFIG"
	PhaseCodegen          Phase = "CODEGEN"
	PhaseTest             Phase = "TEST"
	PhaseRepair           Phase = "REPAIR"
	PhaseHardening        Phase = "HARDENING"
	PhaseFinalRun         Phase = "FINAL_RUN"
	PhaseAborted          Phase = "ABORTED"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseFinalRun || p == PhaseAborted
}

// transitions lists the successors each phase may move to. FINAL_RUN is
// terminal once its run has completed; the controller performs the run
// on entry.
var transitions = map[Phase][]Phase{
	PhaseInit:             {PhaseStealthProbe},
	PhaseStealthProbe:     {PhaseGuidedAccess, PhaseRecon},
	PhaseGuidedAccess:     {PhaseRecon, PhaseAborted},
	PhaseRecon:            {PhaseInteractiveSolve, PhaseAnalysis},
	PhaseInteractiveSolve: {PhaseAnalysis, PhaseAborted},
	PhaseAnalysis:         {PhaseUserConfig, PhaseAborted},
	PhaseUserConfig:       {PhaseCodegen, PhaseAborted},
	PhaseCodegen:          {PhaseTest},
	PhaseTest:             {PhaseHardening, PhaseRepair, PhaseCodegen, PhaseAborted},
	PhaseRepair:           {PhaseTest, PhaseUserConfig, PhaseFinalRun, PhaseAborted},
	PhaseHardening:        {PhaseFinalRun},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Valid reports whether p names a known phase.
func (p Phase) Valid() bool {
	if p.Terminal() {
		return true
	}
	_, ok := transitions[p]
	return ok
}
