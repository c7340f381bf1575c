package extract

import (
	"strings"

	"github.com/daviddao/poflow/internal/types"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// decisionLadder is checked top to bottom. Numbered options follow the
// order they are offered in the partial_quantity_confirmation mail.
var decisionLadder = []struct {
	decision types.PartialDecision
	phrases  []string
}{
	{types.AcceptPartial, []string{"option 1", "option one", "1st option", "first option"}},
	{types.SplitPO, []string{"option 2", "option two", "2nd option", "second option"}},
	{types.WaitFull, []string{"option 3", "option three", "3rd option", "third option"}},
	{types.RejectPartial, []string{"do not accept", "don't accept", "not accept", "reject", "decline", "cancel"}},
	{types.AcceptPartial, []string{"accept the partial", "accept partial", "ok with partial", "okay with partial", "proceed with partial", "accept"}},
	{types.SplitPO, []string{"split"}},
	{types.WaitFull, []string{"full availability", "ship all", "deliver all together", "wait", "hold"}},
}

// Decision maps a buyer's reply onto a partial-availability decision using
// keyword heuristics.
func Decision(subject, body string) fn.Option[types.PartialDecision] {
	text := joinText(subject, body)
	for _, step := range decisionLadder {
		for _, p := range step.phrases {
			if strings.Contains(text, p) {
				return fn.Some(step.decision)
			}
		}
	}
	return fn.None[types.PartialDecision]()
}
