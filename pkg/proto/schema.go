package proto

// EnvelopeSchemaID is the canonical URL the envelope schema is compiled under.
const EnvelopeSchemaID = "https://docsync.dev/schemas/live-envelope.json"

// EnvelopeSchema is the JSON Schema gate applied to live-channel frames
// before typed decoding. It checks structure only; unknown type strings
// still pass here and are dropped by the reader afterwards.
const EnvelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://docsync.dev/schemas/live-envelope.json",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "message": {"type": "string"},
    "states": {
      "type": "object",
      "additionalProperties": {"type": "object"}
    },
    "doc_id": {"type": "string"},
    "file_name": {"type": "string"},
    "page": {"type": "integer", "minimum": 0},
    "total_pages": {"type": "integer", "minimum": 0},
    "completed_pages": {"type": "integer", "minimum": 0},
    "context": {"type": "string"},
    "data": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "object"}
      }
    }
  }
}`
