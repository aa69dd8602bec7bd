package api

import (
	"encoding/json"

	"github.com/oriys/aperture/internal/logging"
)

// CommonBody is the request body shape every operation extends,
// mirroring the original's base request model: every submitted
// operation carries an entrypoint command, optional per-child
// environment variables, and an optional SkyPilot-style config
// override blob.
type CommonBody struct {
	EnvVars                map[string]string `json:"env_vars,omitempty"`
	EntrypointCommand      string            `json:"entrypoint_command,omitempty"`
	OverrideSkyPilotConfig map[string]any    `json:"override_skypilot_config,omitempty"`
}

// deniedConfigKeys cannot be overridden by a client-supplied config
// blob — these control server-side trust boundaries (auth, remote
// execution backends) that a request body must never touch.
var deniedConfigKeys = map[string]bool{
	"auth":           true,
	"api_server":     true,
	"kubernetes":     true,
	"allowed_clouds": true,
}

// SanitizeConfigOverride strips denied keys from override, logging a
// warning for each one removed rather than failing the request —
// the original's get_override_skypilot_config_from_client pops denied
// keys and logs, it does not reject the call.
func SanitizeConfigOverride(override map[string]any) map[string]any {
	if len(override) == 0 {
		return override
	}
	clean := make(map[string]any, len(override))
	for k, v := range override {
		if deniedConfigKeys[k] {
			logging.Op().Warn("dropping denied override_skypilot_config key", "key", k)
			continue
		}
		clean[k] = v
	}
	return clean
}

// ParseCommonBody decodes the common fields out of a raw request
// body, tolerating bodies that only carry operation-specific fields.
func ParseCommonBody(raw json.RawMessage) (CommonBody, error) {
	var body CommonBody
	if len(raw) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return CommonBody{}, err
	}
	body.OverrideSkyPilotConfig = SanitizeConfigOverride(body.OverrideSkyPilotConfig)
	return body, nil
}

// SanitizeRequestBody parses raw, strips denied override_skypilot_config
// keys, and re-marshals the result — the body that must actually be
// persisted and later handed to the Child Executor. Unmarshaling into
// a generic map preserves every operation-specific sibling field
// (cluster_name, task_config, ...) that CommonBody does not itself
// declare, since those fields share the same top-level JSON object.
func SanitizeRequestBody(raw json.RawMessage) (json.RawMessage, CommonBody, error) {
	body, err := ParseCommonBody(raw)
	if err != nil {
		return nil, CommonBody{}, err
	}
	if len(raw) == 0 {
		return raw, body, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, CommonBody{}, err
	}
	if len(body.OverrideSkyPilotConfig) == 0 {
		delete(fields, "override_skypilot_config")
	} else {
		cleaned, err := json.Marshal(body.OverrideSkyPilotConfig)
		if err != nil {
			return nil, CommonBody{}, err
		}
		fields["override_skypilot_config"] = cleaned
	}

	sanitized, err := json.Marshal(fields)
	if err != nil {
		return nil, CommonBody{}, err
	}
	return sanitized, body, nil
}
