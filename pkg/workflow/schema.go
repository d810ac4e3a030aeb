package workflow

// definitionSchema is the structural JSON schema of a definition document.
// Graph rules that need more than one state at a time live in Validate.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-04/schema#",
  "type": "object",
  "required": ["name", "start_at", "states"],
  "additionalProperties": false,
  "properties": {
    "name": {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
    "comment": {"type": "string"},
    "start_at": {"type": "string", "minLength": 1},
    "timeout_seconds": {"type": "integer", "minimum": 1},
    "input_schema": {"type": "object"},
    "triggers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["detail_type"],
        "additionalProperties": false,
        "properties": {
          "detail_type": {"type": "string", "minLength": 1},
          "source": {"type": "string"}
        }
      }
    },
    "states": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"$ref": "#/definitions/state"}
    }
  },
  "definitions": {
    "path": {"type": "string", "pattern": "^\\$(\\.[^.]+)*$"},
    "state": {
      "type": "object",
      "required": ["type"],
      "additionalProperties": false,
      "properties": {
        "type": {"enum": ["Pass", "Wait", "Invoke", "InvokeWithCallback", "Choice", "Succeed", "Fail"]},
        "comment": {"type": "string"},
        "next": {"type": "string", "minLength": 1},
        "input_path": {"$ref": "#/definitions/path"},
        "result_path": {"$ref": "#/definitions/path"},
        "result": {},
        "resource": {"type": "string", "minLength": 1},
        "parameters": {"type": "object"},
        "seconds": {"type": "integer", "minimum": 0},
        "timestamp": {"type": "string", "format": "date-time"},
        "seconds_path": {"$ref": "#/definitions/path"},
        "timestamp_path": {"$ref": "#/definitions/path"},
        "choices": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/rule"}},
        "default": {"type": "string", "minLength": 1},
        "error": {"type": "string"},
        "cause": {"type": "string"},
        "error_path": {"$ref": "#/definitions/path"},
        "cause_path": {"$ref": "#/definitions/path"}
      }
    },
    "rule": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "variable": {"$ref": "#/definitions/path"},
        "string_equals": {"type": "string"},
        "number_equals": {"type": "number"},
        "boolean_equals": {"type": "boolean"},
        "number_less_than": {"type": "number"},
        "number_less_than_equals": {"type": "number"},
        "number_greater_than": {"type": "number"},
        "number_greater_than_equals": {"type": "number"},
        "is_present": {"type": "boolean"},
        "and": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/rule"}},
        "or": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/rule"}},
        "not": {"$ref": "#/definitions/rule"},
        "next": {"type": "string", "minLength": 1}
      }
    }
  }
}`
