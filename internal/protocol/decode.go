package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	ReplySchemaURL = "https://tacbridge.ai/schemas/reply.schema.json"
	StateSchemaURL = "https://tacbridge.ai/schemas/state.schema.json"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce  sync.Once
	replySchema *jsonschema.Schema
	stateSchema *jsonschema.Schema
	schemaErr   error
)

func loadSchemas() error {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		for url, name := range map[string]string{
			ReplySchemaURL: "schemas/reply.schema.json",
			StateSchemaURL: "schemas/state.schema.json",
		} {
			b, err := schemaFS.ReadFile(name)
			if err != nil {
				schemaErr = err
				return
			}
			if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
				schemaErr = fmt.Errorf("add %s: %w", name, err)
				return
			}
		}
		if replySchema, schemaErr = c.Compile(ReplySchemaURL); schemaErr != nil {
			return
		}
		stateSchema, schemaErr = c.Compile(StateSchemaURL)
	})
	return schemaErr
}

func decodeAny(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after document")
	}
	return v, nil
}

// DecodeReply decodes and validates a director reply. Any failure is a
// *ProtocolError; the caller must not apply a partial batch. A reply without
// a commands field decodes to an empty batch.
func DecodeReply(b []byte) (ReplyMsg, error) {
	if err := loadSchemas(); err != nil {
		return ReplyMsg{}, &ProtocolError{Reason: "load schema", Err: err}
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ReplyMsg{}, &ProtocolError{Reason: "empty reply"}
	}
	doc, err := decodeAny(b)
	if err != nil {
		return ReplyMsg{}, &ProtocolError{Reason: "decode reply", Err: err}
	}
	if err := replySchema.Validate(doc); err != nil {
		return ReplyMsg{}, &ProtocolError{Reason: "reply schema", Err: err}
	}
	var msg ReplyMsg
	if err := json.Unmarshal(b, &msg); err != nil {
		return ReplyMsg{}, &ProtocolError{Reason: "decode reply", Err: err}
	}
	if msg.Commands == nil {
		msg.Commands = []CommandMsg{}
	}
	return msg, nil
}

// ValidateState checks an encoded snapshot against the state schema and
// returns the generic document for further inspection.
func ValidateState(b []byte) (map[string]any, error) {
	if err := loadSchemas(); err != nil {
		return nil, err
	}
	doc, err := decodeAny(bytes.TrimSpace(b))
	if err != nil {
		return nil, &ProtocolError{Reason: "decode state", Err: err}
	}
	if err := stateSchema.Validate(doc); err != nil {
		return nil, &ProtocolError{Reason: "state schema", Err: err}
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, &ProtocolError{Reason: "state is not an object"}
	}
	return m, nil
}
