package subscription

// ErrorCode classifies why a subscription document was rejected.
type ErrorCode string

const (
	ErrSyntax              ErrorCode = "SYNTAX"
	ErrGraphQL             ErrorCode = "GRAPHQL_ERROR"
	ErrMissingSubscription ErrorCode = "MISSING_SUBSCRIPTION"
	ErrInvalid             ErrorCode = "INVALID"
	ErrMissingEvent        ErrorCode = "MISSING_EVENT"
)

// Query is the parsed, validated form of an endpoint's subscription document.
// It is derived on demand from the stored document text and never mutated
// after construction.
type Query struct {
	Source    string
	IsValid   bool
	ErrorCode ErrorCode
	ErrorMsg  string

	events       []string
	channelSlugs []string
	deferIf      []string
	filterable   bool
}

// Events returns the distinct subscribed event names in lexicographic order.
// Empty whenever the document is invalid.
func (q *Query) Events() []string {
	if !q.IsValid {
		return nil
	}
	return q.events
}

// SubscribesTo reports whether the document subscribes to eventType.
func (q *Query) SubscribesTo(eventType string) bool {
	if !q.IsValid {
		return false
	}
	for _, ev := range q.events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// FilterableChannelSlugs returns the channel slugs declared on a single
// filterable top-level field. Always empty for invalid documents and for
// documents subscribing through the generic event field.
func (q *Query) FilterableChannelSlugs() []string {
	if !q.IsValid || !q.filterable {
		return []string{}
	}
	return q.channelSlugs
}

// DeferIfConditions returns the deferIf conditions declared on a single
// filterable top-level field, in declaration order. Always empty for invalid
// documents and for documents subscribing through the generic event field.
func (q *Query) DeferIfConditions() []string {
	if !q.IsValid || !q.filterable {
		return []string{}
	}
	return q.deferIf
}
