package registry

import "github.com/xeipuuv/gojsonschema"

const storeRegistrySchemaJSON = `{
  "type": "object",
  "required": ["stores"],
  "properties": {
    "stores": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "spark_ytd_cpd": {"type": ["number", "null"]},
          "target_batch_size": {"type": ["integer", "null"]},
          "last_seen_in_upload": {"type": ["string", "null"]},
          "status": {"enum": ["active", "inactive"]},
          "metadata": {
            "type": ["object", "null"],
            "properties": {
              "city": {"type": "string"},
              "state": {"type": "string"},
              "store_name": {"type": "string"}
            }
          }
        }
      }
    },
    "last_updated": {"type": "string"},
    "version": {"type": "string"}
  }
}`

const rateCardsSchemaJSON = `{
  "type": "object",
  "required": ["vendors"],
  "properties": {
    "vendors": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["base_rate_80", "base_rate_100", "contractual_adjustment"],
        "properties": {
          "base_rate_80": {"type": "number"},
          "base_rate_100": {"type": "number"},
          "contractual_adjustment": {"type": "number"},
          "notes": {"type": "string"},
          "last_updated": {"type": "string"}
        }
      }
    },
    "last_updated": {"type": "string"},
    "version": {"type": "string"}
  }
}`

var (
	storeRegistrySchema = mustSchema(storeRegistrySchemaJSON)
	rateCardsSchema     = mustSchema(rateCardsSchemaJSON)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic("registry: invalid schema: " + err.Error())
	}
	return s
}

// checkSchema validates raw JSON against s and returns the problems found.
func checkSchema(s *gojsonschema.Schema, data []byte) ([]string, error) {
	if s == nil {
		return nil, nil
	}
	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		problems[i] = desc.String()
	}
	return problems, nil
}
