package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/xeipuuv/gojsonschema"
)

const envelopeSchema = `{
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1}
	}
}`

const threatEventSchema = `{
	"type": "object",
	"required": ["type", "threat"],
	"properties": {
		"threat": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id": {"type": ["string", "integer"]}
			}
		},
		"alert": {
			"type": ["object", "null"],
			"properties": {
				"id": {"type": ["string", "integer"]}
			}
		}
	}
}`

var (
	envelopeValidator    = mustCompile(envelopeSchema)
	threatEventValidator = mustCompile(threatEventSchema)
)

func mustCompile(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("stream: invalid built-in schema: %v", err))
	}
	return schema
}

// decodeFrame turns a websocket frame into a JSON document. Text frames are
// JSON already; binary frames carry the same document encoded as msgpack.
func decodeFrame(messageType int, data []byte) ([]byte, error) {
	switch messageType {
	case websocket.TextMessage:
		return data, nil
	case websocket.BinaryMessage:
		var doc map[string]interface{}
		if err := msgpack.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode msgpack frame: %w", err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("re-encode msgpack frame: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported frame type %d", messageType)
	}
}

// eventType validates the envelope and returns its type tag.
func eventType(doc []byte) (string, error) {
	if err := validate(envelopeValidator, doc); err != nil {
		return "", err
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(doc, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// validateEvent checks the payload shape of a known event type.
func validateEvent(doc []byte) error {
	return validate(threatEventValidator, doc)
}

func validate(schema *gojsonschema.Schema, doc []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
