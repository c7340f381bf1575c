package types

import "slices"

// Status constants.
const (
	StatusIssued                  = "ISSUED"
	StatusAwaitingAcknowledgment  = "AWAITING_ACKNOWLEDGMENT"
	StatusAcknowledged            = "ACKNOWLEDGED"
	StatusOnHold                  = "ON_HOLD"
	StatusPartialAvailability     = "PARTIAL_AVAILABILITY"
	StatusPartialAccepted         = "PARTIAL_ACCEPTED"
	StatusPartialRejected         = "PARTIAL_REJECTED"
	StatusWaitingFullAvailability = "WAITING_FULL_AVAILABILITY"
	StatusSplitRequested          = "SPLIT_REQUESTED"
	StatusDelayed                 = "DELAYED"
	StatusInfoRequested           = "INFO_REQUESTED"
	StatusDelivered               = "DELIVERED"
	StatusClosed                  = "CLOSED"
	StatusCompleted               = "COMPLETED"
	StatusCancelled               = "CANCELLED"
)

// ValidStatuses is the set of known lifecycle values.
var ValidStatuses = []string{
	StatusIssued, StatusAwaitingAcknowledgment, StatusAcknowledged,
	StatusOnHold, StatusPartialAvailability, StatusPartialAccepted,
	StatusPartialRejected, StatusWaitingFullAvailability,
	StatusSplitRequested, StatusDelayed, StatusInfoRequested,
	StatusDelivered, StatusClosed, StatusCompleted, StatusCancelled,
}

// TerminalStatuses are excluded from the active set.
var TerminalStatuses = []string{StatusDelivered, StatusClosed, StatusCompleted, StatusCancelled}

// IsValidStatus checks if a status string is known.
func IsValidStatus(s string) bool {
	return slices.Contains(ValidStatuses, s)
}

// IsTerminal reports whether no further follow-up happens in status s.
func IsTerminal(s string) bool {
	return slices.Contains(TerminalStatuses, s)
}

// Intent vocabulary.
const (
	IntentCreditHold          = "credit_hold"
	IntentPartialAvailability = "partial_availability"
	IntentDeliveryDelay       = "delivery_delay"
	IntentPaymentConfirmation = "payment_confirmation"
	IntentDocsMissing         = "docs_missing"
	IntentExtensionRequest    = "extension_request"
	IntentThirdPartyIssue     = "third_party_issue"
	IntentAcknowledgment      = "acknowledgment"
	IntentTechnicalQuery      = "technical_query"
	IntentDeliveryCompleted   = "delivery_completed"
	IntentInfoMissing         = "info_missing"
	IntentMTCProvided         = "mtc_provided"
	IntentOther               = "other"
)

// ValidIntents is the controlled intent vocabulary.
var ValidIntents = []string{
	IntentCreditHold, IntentPartialAvailability, IntentDeliveryDelay,
	IntentPaymentConfirmation, IntentDocsMissing, IntentExtensionRequest,
	IntentThirdPartyIssue, IntentAcknowledgment, IntentTechnicalQuery,
	IntentDeliveryCompleted, IntentInfoMissing, IntentMTCProvided, IntentOther,
}

// IsValidIntent checks if an intent belongs to the vocabulary.
func IsValidIntent(s string) bool {
	return slices.Contains(ValidIntents, s)
}

// Scenario names understood by the content generator.
const (
	ScenarioNewPONotification            = "new_po_notification"
	ScenarioInitialPOEmail               = "initial_po_email"
	ScenarioCreditHoldAlert              = "credit_hold_alert"
	ScenarioPaymentConfirmationForward   = "payment_confirmation_forward"
	ScenarioTechnicalQueryForward        = "technical_query_forward"
	ScenarioMissingDeliveryDateRequest   = "missing_delivery_date_request"
	ScenarioPartialBuyerDecisionSupplier = "partial_availability_buyer_decision_supplier"
	ScenarioPartialRequestRemainingDate  = "partial_availability_request_remaining_date"
	ScenarioDeliveryDateUpdateBuyer      = "delivery_date_update_buyer"
	ScenarioDeliveryDelayFollowup        = "delivery_delay_followup"
	ScenarioPartialQuantityConfirmation  = "partial_quantity_confirmation"
	ScenarioRequestClarification         = "request_clarification"
	ScenarioRequestMTC                   = "request_mtc"
	ScenarioVendorNoResponseFollowup     = "vendor_no_response_followup"
)

// ValidScenarios lists every scenario with a template.
var ValidScenarios = []string{
	ScenarioNewPONotification, ScenarioInitialPOEmail, ScenarioCreditHoldAlert,
	ScenarioPaymentConfirmationForward, ScenarioTechnicalQueryForward,
	ScenarioMissingDeliveryDateRequest, ScenarioPartialBuyerDecisionSupplier,
	ScenarioPartialRequestRemainingDate, ScenarioDeliveryDateUpdateBuyer,
	ScenarioDeliveryDelayFollowup, ScenarioPartialQuantityConfirmation,
	ScenarioRequestClarification, ScenarioRequestMTC,
	ScenarioVendorNoResponseFollowup,
}

// IsValidScenario checks if a scenario has a template.
func IsValidScenario(s string) bool {
	return slices.Contains(ValidScenarios, s)
}

// Recipient aliases for send_email actions.
const (
	AliasSupplier    = "supplier"
	AliasBuyer       = "buyer"
	AliasFinance     = "finance"
	AliasEngineering = "engineering"
)

// ValidAliases is the set of send_email recipients.
var ValidAliases = []string{AliasSupplier, AliasBuyer, AliasFinance, AliasEngineering}

// IsValidAlias checks if a recipient alias is known.
func IsValidAlias(s string) bool {
	return slices.Contains(ValidAliases, s)
}

// Synthetic keywords carried by scheduled checks.
const (
	KeywordETALapsed  = "eta_lapsed"
	KeywordMTCMissing = "mtc_missing"
)

// Label written on follow-up messages sent because the supplier went quiet.
const LabelNoResponseFollowup = ScenarioVendorNoResponseFollowup

// IntentLabel returns the thread label recorded for an intent.
func IntentLabel(intent string) string {
	return "intent:" + intent
}

// ToLabel returns the thread label recording an outbound recipient alias.
func ToLabel(alias string) string {
	return "to:" + alias
}
