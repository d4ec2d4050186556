package subscription

import (
	"sort"
	"strings"
	"unicode"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// eventInterface is the generic dispatcher field and interface name. A
// subscription selecting it declares events through typed fragments instead
// of a dedicated top-level field.
const eventInterface = "Event"

const eventField = "event"

// Parser turns subscription document text into Queries. It holds only the
// immutable platform schema, so a single Parser is safe for concurrent use.
type Parser struct {
	schema *ast.Schema
}

func NewParser(schema *ast.Schema) *Parser {
	return &Parser{schema: schema}
}

// Parse runs the full pipeline: syntax, schema validation, the
// single-top-level-field rule, and event-name extraction. It never returns
// an error; failures are recorded on the Query so callers at the dispatch
// boundary can skip invalid documents without special cases.
func (p *Parser) Parse(document string) *Query {
	q := &Query{Source: document}

	doc, err := parser.ParseQuery(&ast.Source{Input: document})
	if err != nil {
		return q.fail(ErrSyntax, errorMessages(err)...)
	}

	// The operation and field-count checks run before schema validation so
	// their dedicated error codes are not shadowed by the validator's own
	// single-field-subscription rule.
	op := subscriptionOperation(doc)
	if op == nil {
		return q.fail(ErrMissingSubscription, "subscription operation is missing")
	}

	fields := topLevelFields(op)
	if len(fields) > 1 {
		return q.fail(ErrInvalid, "subscription must select a single top-level field")
	}

	if errs := validator.Validate(p.schema, doc); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Message)
		}
		return q.fail(ErrGraphQL, msgs...)
	}

	if len(fields) == 0 {
		return q.fail(ErrMissingEvent, "can't find a single event")
	}

	field := fields[0]
	if field.Name == eventField {
		events := p.resolveEventFragments(field.SelectionSet, doc)
		if len(events) == 0 {
			return q.fail(ErrMissingEvent, "can't find a single event")
		}
		q.events = normalizeEvents(events)
		q.IsValid = true
		return q
	}

	// A single named field subscribes to exactly that event and may carry
	// filter and defer arguments.
	q.events = []string{camelToSnake(field.Name)}
	q.channelSlugs = argumentValues(field, "channels")
	q.deferIf = argumentValues(field, "deferIf")
	q.filterable = true
	q.IsValid = true
	return q
}

func (q *Query) fail(code ErrorCode, msgs ...string) *Query {
	q.ErrorCode = code
	q.ErrorMsg = joinDistinct(msgs)
	return q
}

func subscriptionOperation(doc *ast.QueryDocument) *ast.OperationDefinition {
	for _, op := range doc.Operations {
		if op.Operation == ast.Subscription {
			return op
		}
	}
	return nil
}

func topLevelFields(op *ast.OperationDefinition) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range op.SelectionSet {
		if f, ok := sel.(*ast.Field); ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// resolveEventFragments collects concrete event type names from the generic
// event field's selection set. Inline type-conditional fragments are concrete
// immediately; named fragment spreads are unwrapped exactly one level — a
// fragment defined on the Event interface contributes its own inline
// fragments and directly spread definitions, while a fragment defined on a
// concrete type contributes that type itself.
func (p *Parser) resolveEventFragments(selections ast.SelectionSet, doc *ast.QueryDocument) []string {
	var events []string
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.InlineFragment:
			if s.TypeCondition != "" && s.TypeCondition != eventInterface {
				events = append(events, s.TypeCondition)
			}
		case *ast.FragmentSpread:
			def := doc.Fragments.ForName(s.Name)
			if def == nil {
				continue
			}
			if def.TypeCondition != eventInterface {
				events = append(events, def.TypeCondition)
				continue
			}
			for _, inner := range def.SelectionSet {
				switch is := inner.(type) {
				case *ast.InlineFragment:
					if is.TypeCondition != "" && is.TypeCondition != eventInterface {
						events = append(events, is.TypeCondition)
					}
				case *ast.FragmentSpread:
					if innerDef := doc.Fragments.ForName(is.Name); innerDef != nil && innerDef.TypeCondition != eventInterface {
						events = append(events, innerDef.TypeCondition)
					}
				}
			}
		}
	}
	return events
}

// argumentValues coerces a list-or-scalar argument into a string slice per
// normal list coercion: a single scalar becomes a one-element list.
func argumentValues(field *ast.Field, name string) []string {
	arg := field.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return nil
	}
	if arg.Value.Kind == ast.ListValue {
		var values []string
		for _, child := range arg.Value.Children {
			if child.Value != nil {
				values = append(values, child.Value.Raw)
			}
		}
		return values
	}
	return []string{arg.Value.Raw}
}

func normalizeEvents(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		snake := camelToSnake(n)
		if _, ok := seen[snake]; ok {
			continue
		}
		seen[snake] = struct{}{}
		out = append(out, snake)
	}
	sort.Strings(out)
	return out
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func joinDistinct(msgs []string) string {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return strings.Join(out, ";")
}

func errorMessages(err error) []string {
	switch e := err.(type) {
	case gqlerror.List:
		msgs := make([]string, 0, len(e))
		for _, ge := range e {
			msgs = append(msgs, ge.Message)
		}
		return msgs
	case *gqlerror.Error:
		return []string{e.Message}
	default:
		return []string{err.Error()}
	}
}
