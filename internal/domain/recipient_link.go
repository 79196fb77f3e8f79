package domain

import "encoding/json"

// RecipientLink is the sum type carried in to_header_context: either a
// reference to a property on a remote model, or an inline literal value.
// Modeled as an interface with a private marker method (the same
// sum-type-via-interface idiom the teacher uses for its email block
// variants), rather than threading a discriminator string through the
// pipeline.
type RecipientLink interface {
	isRecipientLink()
}

// SinglePropertyLink resolves to model_field(APIURI, Property).
type SinglePropertyLink struct {
	APIURI   string
	Property string
}

func (SinglePropertyLink) isRecipientLink() {}

// SingleValueLink resolves to scalar(ValueURI).
type SingleValueLink struct {
	ValueURI string
}

func (SingleValueLink) isRecipientLink() {}

// recipientLinkWire is the JSON shape a single to_header_context entry can
// take: either {api_uri, property} or {value_uri}.
type recipientLinkWire struct {
	APIURI   *string `json:"api_uri"`
	Property *string `json:"property"`
	ValueURI *string `json:"value_uri"`
}

// ParseRecipientLink parses one to_header_context element against the
// recipient schema (spec §4.8 step 2): it must be either a
// {api_uri, property} pair or a {value_uri} literal carrier.
func ParseRecipientLink(raw json.RawMessage) (RecipientLink, error) {
	var wire recipientLinkWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &SchemaViolationError{Reason: "recipients"}
	}

	switch {
	case wire.APIURI != nil && wire.Property != nil && wire.ValueURI == nil:
		return SinglePropertyLink{APIURI: *wire.APIURI, Property: *wire.Property}, nil
	case wire.ValueURI != nil && wire.APIURI == nil && wire.Property == nil:
		return SingleValueLink{ValueURI: *wire.ValueURI}, nil
	default:
		return nil, &SchemaViolationError{Reason: "recipients"}
	}
}

// ContextValue is what a single context map entry deserializes to: either
// a single URI string or an ordered list of URI strings (spec §3,
// context: mapping from template-variable name to URI-or-list-of-URIs).
type ContextValue struct {
	Single string
	List   []string
	IsList bool
}

// ParseContextValue parses one context map entry against the context
// schema: values must be strings or lists of strings.
func ParseContextValue(raw json.RawMessage) (ContextValue, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return ContextValue{Single: single}, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return ContextValue{List: list, IsList: true}, nil
	}

	return ContextValue{}, &SchemaViolationError{Reason: "context"}
}
