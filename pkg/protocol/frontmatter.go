package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Front-matter codec
//
// Every record is a YAML block framed by "---" lines, followed by a blank
// line and the free-form markdown body. The codec is the only place the
// framing is known; everything else works with typed structs. Malformed
// input is rejected with a ParseError - there is no best-effort repair.

const frontMatterDelimiter = "---"

// ParseError represents a record that could not be decoded.
//
// Path identifies the record when known (the store fills it in); Reason is a
// human-readable description of what was wrong with the text.
type ParseError struct {
	// Path is the file the record came from, if known.
	Path string

	// Reason describes the defect.
	Reason string

	// Err is the underlying decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("malformed record %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("malformed record: %s", e.Reason)
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsParseError returns true if the error is a record parse error.
// Uses errors.As to handle wrapped errors.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// split separates raw record text into the front-matter YAML and the body.
func split(raw []byte) (frontMatter []byte, body string, err error) {
	text := string(raw)

	if !strings.HasPrefix(text, frontMatterDelimiter+"\n") {
		return nil, "", &ParseError{Reason: "missing opening front-matter delimiter"}
	}

	rest := text[len(frontMatterDelimiter)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelimiter+"\n")
	if end < 0 {
		// The closing delimiter may also terminate the file
		if strings.HasSuffix(rest, "\n"+frontMatterDelimiter) {
			return []byte(rest[:len(rest)-len(frontMatterDelimiter)-1]), "", nil
		}
		return nil, "", &ParseError{Reason: "missing closing front-matter delimiter"}
	}

	frontMatter = []byte(rest[:end])
	body = rest[end+len(frontMatterDelimiter)+2:]
	body = strings.TrimPrefix(body, "\n")
	return frontMatter, body, nil
}

// join renders front-matter YAML and a body back into record text.
func join(frontMatter []byte, body string) []byte {
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelimiter + "\n")
	buf.Write(frontMatter)
	if !bytes.HasSuffix(frontMatter, []byte("\n")) {
		buf.WriteString("\n")
	}
	buf.WriteString(frontMatterDelimiter + "\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes()
}

// ParseRequest decodes record text into a validated Request.
func ParseRequest(raw []byte) (*Request, error) {
	fm, body, err := split(raw)
	if err != nil {
		return nil, err
	}

	var req Request
	if err := yaml.Unmarshal(fm, &req); err != nil {
		return nil, &ParseError{Reason: "invalid front-matter YAML", Err: err}
	}
	req.Body = body

	if err := req.Validate(); err != nil {
		return nil, &ParseError{Reason: err.Error(), Err: err}
	}

	return &req, nil
}

// MarshalRequest encodes a Request into record text.
// The request is validated first - invalid records are never written.
func MarshalRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to marshal invalid request: %w", err)
	}

	fm, err := yaml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request front-matter: %w", err)
	}

	return join(fm, req.Body), nil
}

// ParseContract decodes record text into a validated Contract.
func ParseContract(raw []byte) (*Contract, error) {
	fm, body, err := split(raw)
	if err != nil {
		return nil, err
	}

	var c Contract
	if err := yaml.Unmarshal(fm, &c); err != nil {
		return nil, &ParseError{Reason: "invalid front-matter YAML", Err: err}
	}
	c.Body = body

	if err := c.Validate(); err != nil {
		return nil, &ParseError{Reason: err.Error(), Err: err}
	}

	return &c, nil
}

// MarshalContract encodes a Contract into record text.
func MarshalContract(c *Contract) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to marshal invalid contract: %w", err)
	}

	fm, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contract front-matter: %w", err)
	}

	return join(fm, c.Body), nil
}

// ParseRegistryEntry decodes record text into a validated RegistryEntry.
func ParseRegistryEntry(raw []byte) (*RegistryEntry, error) {
	fm, body, err := split(raw)
	if err != nil {
		return nil, err
	}

	var e RegistryEntry
	if err := yaml.Unmarshal(fm, &e); err != nil {
		return nil, &ParseError{Reason: "invalid front-matter YAML", Err: err}
	}
	e.Body = body

	if err := e.Validate(); err != nil {
		return nil, &ParseError{Reason: err.Error(), Err: err}
	}

	return &e, nil
}

// MarshalRegistryEntry encodes a RegistryEntry into record text.
func MarshalRegistryEntry(e *RegistryEntry) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to marshal invalid registry entry: %w", err)
	}

	fm, err := yaml.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registry entry front-matter: %w", err)
	}

	return join(fm, e.Body), nil
}
