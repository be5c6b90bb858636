package chat

import "fmt"

// VendorKind identifies one of the four supported upstream protocol families.
// The set is closed at build time; adapter selection is a table lookup on
// this enum, never reflection.
type VendorKind string

const (
	VendorFastGPT   VendorKind = "fastgpt"
	VendorDify      VendorKind = "dify"
	VendorOpenAI    VendorKind = "openai"
	VendorDashScope VendorKind = "dashscope"
)

// ParseVendorKind validates a vendor kind string from configuration.
func ParseVendorKind(s string) (VendorKind, error) {
	switch VendorKind(s) {
	case VendorFastGPT, VendorDify, VendorOpenAI, VendorDashScope:
		return VendorKind(s), nil
	}
	return "", fmt.Errorf("unknown vendor kind %q", s)
}

// AgentFeatures are per-agent capability flags. Adapters consult them before
// mapping optional request fields; an unsupported option is dropped, not an
// error.
type AgentFeatures struct {
	SupportsStream    bool `json:"supports_stream" yaml:"supports_stream"`
	SupportsDetail    bool `json:"supports_detail" yaml:"supports_detail"`
	SupportsVariables bool `json:"supports_variables" yaml:"supports_variables"`
	SupportsFiles     bool `json:"supports_files" yaml:"supports_files"`
}

// AgentProfile is the read-only record describing one configured upstream
// agent. Profiles are owned and mutated only by the external configuration
// service; the core treats them as immutable input.
type AgentProfile struct {
	ID       string        `json:"id" yaml:"id"`
	Name     string        `json:"name" yaml:"name"`
	Vendor   VendorKind    `json:"vendor" yaml:"vendor"`
	Endpoint string        `json:"endpoint" yaml:"endpoint"`
	APIKey   string        `json:"api_key" yaml:"api_key"`
	Model    string        `json:"model" yaml:"model"`
	Features AgentFeatures `json:"features" yaml:"features"`
}
