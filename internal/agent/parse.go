package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/oracle"
)

// replySchema accepts any object whose standard fields are scalars or null.
// Additional keys are allowed and left unchecked.
const replySchema = `{
  "type": "object",
  "properties": {
    "invoice_number": {"type": ["string", "number", "null"]},
    "date":           {"type": ["string", "number", "null"]},
    "supplier":       {"type": ["string", "null"]},
    "nit":            {"type": ["string", "number", "null"]},
    "subtotal":       {"type": ["string", "number", "null"]},
    "tax":            {"type": ["string", "number", "null"]},
    "total":          {"type": ["string", "number", "null"]},
    "currency":       {"type": ["string", "null"]},
    "payment_terms":  {"type": ["string", "null"]},
    "document_title": {"type": ["string", "null"]},
    "raw_text":       {"type": ["string", "null"]}
  }
}`

var compiledReplySchema = jsonschema.MustCompileString("reply.json", replySchema)

// extractJSONObject isolates the JSON object in a reply. A reply that does not
// start with "{" is cut from its first "{" to its last "}".
func extractJSONObject(reply string) (string, error) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "{") {
		return text, nil
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end == -1 || end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// parseReply decodes an oracle reply into a record. Every failure wraps
// oracle.ErrMalformedReply and quotes the raw reply.
func parseReply(reply string) (invoice.Record, error) {
	text, err := extractJSONObject(reply)
	if err != nil {
		return invoice.Record{}, malformed(err, reply)
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return invoice.Record{}, malformed(fmt.Errorf("unmarshaling json: %w", err), reply)
	}
	if err := compiledReplySchema.Validate(doc); err != nil {
		return invoice.Record{}, malformed(fmt.Errorf("unexpected reply shape: %w", err), reply)
	}

	var record invoice.Record
	if err := json.Unmarshal([]byte(text), &record); err != nil {
		return invoice.Record{}, malformed(fmt.Errorf("decoding record: %w", err), reply)
	}
	if err := record.ValidateAmounts(); err != nil {
		return invoice.Record{}, malformed(err, reply)
	}
	return record, nil
}

func malformed(err error, reply string) error {
	return fmt.Errorf("%w: %v\nresponse: %s", oracle.ErrMalformedReply, err, reply)
}
