package events

// Topic constants for domain events emitted by the parking core.
const (
	TopicSessionOpened         = "session.opened"
	TopicSessionClosed         = "session.closed"
	TopicSessionDeleted        = "session.deleted"
	TopicSessionReviewRequired = "session.review_required"
	TopicInvoiceCreated        = "invoice.created"
	TopicInvoicePaid           = "invoice.paid"
	TopicInvoiceOverdue        = "invoice.overdue"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicSessionOpened,
		TopicSessionClosed,
		TopicSessionDeleted,
		TopicSessionReviewRequired,
		TopicInvoiceCreated,
		TopicInvoicePaid,
		TopicInvoiceOverdue,
	}
}

// IsKnownTopic reports whether topic is one of DefaultTopics.
func IsKnownTopic(topic string) bool {
	for _, t := range DefaultTopics() {
		if t == topic {
			return true
		}
	}
	return false
}
