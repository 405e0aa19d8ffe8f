package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// dialogOptionsSchema validates set_options/add_dialogs payloads before
// they reach the Dialog Registry (SPEC_FULL.md §2: "the admin surface
// never trusts caller-shaped structs blindly").
const dialogOptionsSchema = `{
	"type": "object",
	"properties": {
		"download_media": {"type": "boolean"},
		"ocr_enabled": {"type": "boolean"},
		"backfill_enabled": {"type": "boolean"},
		"is_monitoring": {"type": "boolean"}
	},
	"additionalProperties": false
}`

// autojoinPolicySchema validates join_now's policy argument.
const autojoinPolicySchema = `{
	"type": "object",
	"properties": {
		"mode": {"type": "string", "enum": ["rotation", "specific"]},
		"account_id": {"type": "integer"},
		"actions": {
			"type": "array",
			"items": {"type": "string", "enum": ["monitor", "backfill", "scrape_members", "stories"]}
		}
	},
	"required": ["mode", "actions"],
	"additionalProperties": false
}`

// Validator compiles the Command API's request schemas once at startup,
// grounded on zkoranges-go-claw's StructuredValidator pattern
// (jsonschema.UnmarshalJSON for correct number handling, one Compiler
// with every schema added as a resource).
type Validator struct {
	dialogOptions  *jsonschema.Schema
	autojoinPolicy *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(dialogOptionsSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal dialog_options schema: %w", err)
	}
	if err := c.AddResource("dialog_options.json", doc); err != nil {
		return nil, fmt.Errorf("add dialog_options resource: %w", err)
	}

	doc, err = jsonschema.UnmarshalJSON(strings.NewReader(autojoinPolicySchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal autojoin_policy schema: %w", err)
	}
	if err := c.AddResource("autojoin_policy.json", doc); err != nil {
		return nil, fmt.Errorf("add autojoin_policy resource: %w", err)
	}

	dialogOptions, err := c.Compile("dialog_options.json")
	if err != nil {
		return nil, fmt.Errorf("compile dialog_options schema: %w", err)
	}
	autojoinPolicy, err := c.Compile("autojoin_policy.json")
	if err != nil {
		return nil, fmt.Errorf("compile autojoin_policy schema: %w", err)
	}
	return &Validator{dialogOptions: dialogOptions, autojoinPolicy: autojoinPolicy}, nil
}

// ValidateDialogOptions round-trips v through JSON so the schema sees
// plain maps/strings/numbers rather than Go struct values, matching how
// jsonschema.Schema.Validate expects its input (json.Number, not
// float64, for integers — hence UnmarshalJSON rather than a bare
// map[string]any built by hand).
func (v *Validator) ValidateDialogOptions(opts DialogOptions) error {
	return validateAgainst(v.dialogOptions, opts)
}

func (v *Validator) ValidateAutojoinPolicy(policy JoinNowPolicy) error {
	return validateAgainst(v.autojoinPolicy, policy)
}

func validateAgainst(schema *jsonschema.Schema, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("unmarshaling payload: %w", err)
	}
	return schema.Validate(doc)
}
