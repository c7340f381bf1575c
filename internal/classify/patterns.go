package classify

import (
	"regexp"

	"github.com/daviddao/poflow/internal/types"
)

// poPattern matches PO-AX-301, PO-OG-202 and PO-OG-2026-0147 style numbers.
var poPattern = regexp.MustCompile(`(?i)\bPO-[A-Z0-9]{2,}(?:-[A-Z0-9]{2,})+\b`)

// keywordPatterns are recorded on the event and on the thread entry.
var keywordPatterns = []struct {
	keyword string
	re      *regexp.Regexp
}{
	{"credit hold", regexp.MustCompile(`\bcredit hold\b`)},
	{"payment hold", regexp.MustCompile(`\bpayment hold\b`)},
	{"on hold", regexp.MustCompile(`\bon hold\b`)},
	{"technical", regexp.MustCompile(`\btechnical\b`)},
	{"datasheet", regexp.MustCompile(`\bdata ?sheets?\b`)},
	{"spec", regexp.MustCompile(`\bspec(s|ification|ifications)?\b`)},
	{"drawing", regexp.MustCompile(`\bdrawings?\b`)},
	{"acknowledge", regexp.MustCompile(`\backnowledg(e|ed|es|ement|ment)\b`)},
	{"ack", regexp.MustCompile(`\back\b`)},
	{"partial", regexp.MustCompile(`\bpartial(ly)?\b`)},
	{"backorder", regexp.MustCompile(`\bback ?order(ed)?\b`)},
	{"delay", regexp.MustCompile(`\bdelay(ed|s)?\b`)},
	{"late", regexp.MustCompile(`\blate\b`)},
	{"mtc", regexp.MustCompile(`\bmtcs?\b|\bmaterial test certificates?\b`)},
}

// intentPatterns are the heuristic intent signals. An intent fires when
// any of its patterns matches and none of its negative patterns does.
var intentPatterns = []struct {
	intent   string
	match    []*regexp.Regexp
	negative []*regexp.Regexp
}{
	{
		intent: types.IntentCreditHold,
		match:  []*regexp.Regexp{regexp.MustCompile(`\b(credit|payment) hold\b|\bon hold\b`)},
	},
	{
		intent: types.IntentPartialAvailability,
		match: []*regexp.Regexp{
			regexp.MustCompile(`\bpartial(ly)?\b|\bsome (of the )?items\b|\bnot all\b`),
			regexp.MustCompile(`\bonly (have|ship|supply|deliver|send)\b|\bcan only\b|\bdo(n'?t| not) have (all|enough)\b`),
			regexp.MustCompile(`\bremaining \d+\b|\bbalance (quantity|qty)\b`),
		},
	},
	{
		intent: types.IntentDeliveryDelay,
		match:  []*regexp.Regexp{regexp.MustCompile(`\bdelay(ed|s)?\b|\brunning late\b|\bcannot deliver on time\b|\bwill be late\b`)},
	},
	{
		intent: types.IntentPaymentConfirmation,
		match:  []*regexp.Regexp{regexp.MustCompile(`\bpayment confirmation\b|\bpayment (has been )?(made|received|sent|released)\b|\bpaid\b`)},
	},
	{
		intent: types.IntentDocsMissing,
		match:  []*regexp.Regexp{regexp.MustCompile(`\bdocs? missing\b|\bmissing (docs|documents?|paperwork)\b|\bcompliance\b`)},
	},
	{
		intent: types.IntentExtensionRequest,
		match:  []*regexp.Regexp{regexp.MustCompile(`\bextension\b|\breschedul(e|ed|ing)\b`)},
	},
	{
		intent: types.IntentThirdPartyIssue,
		match:  []*regexp.Regexp{regexp.MustCompile(`\bthird[- ]party\b|\bsub-?suppliers?\b|\braw materials?\b`)},
	},
	{
		intent: types.IntentAcknowledgment,
		match:  []*regexp.Regexp{regexp.MustCompile(`\backnowledg(e|ed|es|ement|ment)\b|\back\b|\bconfirmed\b|\border confirmation\b`)},
	},
	{
		intent: types.IntentTechnicalQuery,
		match:  []*regexp.Regexp{regexp.MustCompile(`\btechnical\b|\bdata ?sheets?\b|\bspec(s|ification|ifications)?\b|\bdrawings?\b`)},
	},
	{
		intent: types.IntentInfoMissing,
		match:  []*regexp.Regexp{regexp.MustCompile(`\bplease clarify\b|\bmissing (information|details)\b|\b(need|require)s? (more |further )?(information|details|clarification)\b`)},
	},
	{
		intent: types.IntentMTCProvided,
		match: []*regexp.Regexp{
			regexp.MustCompile(`\b(mtcs?|(material )?test certificates?) (is |are )?attached\b`),
			regexp.MustCompile(`\b(attached|enclosed|please find) (is |are )?(the |our )?(mtcs?|(material )?test certificates?)\b`),
		},
		negative: []*regexp.Regexp{regexp.MustCompile(`\b(no|without|missing) (the )?(mtc|test certificate)`)},
	},
	{
		intent: types.IntentDeliveryCompleted,
		match: []*regexp.Regexp{regexp.MustCompile(
			`\b(has been delivered|have been delivered|delivered already|delivery completed|delivered today|delivered on|goods delivered|received already|has been received|received by)\b`)},
		negative: []*regexp.Regexp{regexp.MustCompile(
			`\b(will be delivered|to be delivered|expected to be delivered|deliver by|delivery by)\b`)},
	},
}

// mtcAttachment matches attachment names that carry a test certificate.
var mtcAttachment = regexp.MustCompile(`(?i)(^|[^a-z])mtc([^a-z]|$)|test[ _-]?cert|3\.1[ _-]?cert`)

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
