package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// URIScheme is the scheme component of the scheme:path#fragment grammar.
type URIScheme string

const (
	SchemeValue URIScheme = "value"
	SchemeAPI   URIScheme = "api"
)

// ScalarType is the <type> component of a value: URI.
type ScalarType string

const (
	ScalarStr   ScalarType = "str"
	ScalarInt   ScalarType = "int"
	ScalarFloat ScalarType = "float"
	ScalarBool  ScalarType = "bool"
	ScalarNone  ScalarType = "none"
)

// ParsedURI is the tagged-union result of parsing a scheme:path#fragment
// string once, at the JSON boundary, rather than threading the raw string
// through the pipeline (see spec Design Notes).
type ParsedURI struct {
	Scheme URIScheme

	// Populated when Scheme == SchemeValue.
	ScalarType ScalarType
	Literal    string

	// Populated when Scheme == SchemeAPI.
	Model string
	ID    string

	// Raw is kept for error messages that must echo the original URI.
	Raw string
}

// ParseURI parses the scheme:path#fragment grammar described in spec §4.4.
// It does not evaluate the URI (no I/O, no literal parsing) — that is
// Scalar()/Model()'s job.
func ParseURI(uri string) (ParsedURI, error) {
	schemeSep := strings.IndexByte(uri, ':')
	if schemeSep < 0 {
		return ParsedURI{}, &UnsupportedURIError{URI: uri}
	}

	scheme := uri[:schemeSep]
	rest := uri[schemeSep+1:]

	fragSep := strings.IndexByte(rest, '#')
	if fragSep < 0 {
		return ParsedURI{}, &UnsupportedURIError{URI: uri}
	}
	path := rest[:fragSep]
	fragment := rest[fragSep+1:]

	switch URIScheme(scheme) {
	case SchemeValue:
		return ParsedURI{
			Scheme:     SchemeValue,
			ScalarType: ScalarType(path),
			Literal:    fragment,
			Raw:        uri,
		}, nil
	case SchemeAPI:
		return ParsedURI{
			Scheme: SchemeAPI,
			Model:  path,
			ID:     fragment,
			Raw:    uri,
		}, nil
	default:
		return ParsedURI{}, &UnsupportedURIError{URI: uri}
	}
}

// Scalar evaluates a value: URI into a scalar Go value (string, int64,
// float64, bool, or nil), per spec §4.4.
func (p ParsedURI) Scalar() (interface{}, error) {
	if p.Scheme != SchemeValue {
		return nil, &UnsupportedURIError{URI: p.Raw}
	}

	switch p.ScalarType {
	case ScalarStr:
		return p.Literal, nil
	case ScalarInt:
		n, err := strconv.ParseInt(p.Literal, 10, 64)
		if err != nil {
			return nil, &ScalarParseError{URI: p.Raw, Err: err}
		}
		return n, nil
	case ScalarFloat:
		f, err := strconv.ParseFloat(p.Literal, 64)
		if err != nil {
			return nil, &ScalarParseError{URI: p.Raw, Err: err}
		}
		return f, nil
	case ScalarBool:
		return strings.EqualFold(p.Literal, "true"), nil
	case ScalarNone:
		return nil, nil
	default:
		return nil, &UnsupportedScalarTypeError{Type: string(p.ScalarType)}
	}
}

// UnsupportedURIError is raised when a URI's scheme isn't one this
// operation accepts, or the grammar couldn't be parsed at all. Context,
// when set, names the operation that attempted resolution (e.g.
// "context generation") and is appended to the message, matching the
// upstream wording for context_entry failures.
type UnsupportedURIError struct {
	URI     string
	Context string
}

func (e *UnsupportedURIError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("Unsupported URI '%s' for %s.", e.URI, e.Context)
	}
	return fmt.Sprintf("Unsupported URI '%s'.", e.URI)
}

// UnsupportedScalarTypeError is raised by a value: URI whose <type> isn't
// one of str/int/float/bool/none.
type UnsupportedScalarTypeError struct {
	Type string
}

func (e *UnsupportedScalarTypeError) Error() string {
	return fmt.Sprintf("Unsupported scalar type %q.", e.Type)
}

// ScalarParseError is raised when a numeric value: URI's fragment fails to
// parse as the declared type.
type ScalarParseError struct {
	URI string
	Err error
}

func (e *ScalarParseError) Error() string {
	return fmt.Sprintf("Failed to parse scalar URI %q: %v", e.URI, e.Err)
}

func (e *ScalarParseError) Unwrap() error { return e.Err }

// MissingFieldError is raised by model_field when the fetched model has no
// such property.
type MissingFieldError struct {
	Model    string
	ID       string
	Property string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("Model %s#%s has no field %q.", e.Model, e.ID, e.Property)
}
