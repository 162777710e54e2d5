package protocol

// ControlSchema is the JSON schema every text control frame must satisfy.
// Stream kinds are checked after schema validation so the error names the
// accepted values.
const ControlSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "streamType"],
  "properties": {
    "type": {
      "type": "string",
      "enum": ["start", "data", "end"]
    },
    "streamType": {
      "type": "string",
      "minLength": 1
    },
    "chunk": {
      "type": "string"
    },
    "videoMetadata": {
      "$ref": "#/definitions/metadata"
    },
    "metadata": {
      "$ref": "#/definitions/metadata"
    }
  },
  "definitions": {
    "metadata": {
      "type": "object",
      "additionalProperties": {
        "type": ["string", "number", "boolean", "null"]
      }
    }
  }
}`
