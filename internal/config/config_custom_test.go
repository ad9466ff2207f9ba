package config

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestProbeConfig_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name       string
		yamlData   string
		wantType   string
		wantURL    string
		wantServer string
	}{
		{
			name:     "Bare URL",
			yamlData: `https://api.ipify.org`,
			wantType: "http",
			wantURL:  "https://api.ipify.org",
		},
		{
			name: "Explicit HTTP",
			yamlData: `
type: http
url: https://checkip.amazonaws.com
`,
			wantType: "http",
			wantURL:  "https://checkip.amazonaws.com",
		},
		{
			name: "DNS Inferred From Server",
			yamlData: `
server: resolver1.opendns.com:53
name: myip.opendns.com
`,
			wantType:   "dns",
			wantServer: "resolver1.opendns.com:53",
		},
		{
			name: "URL Without Type",
			yamlData: `
url: https://icanhazip.com
`,
			wantType: "http",
			wantURL:  "https://icanhazip.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p ProbeConfig
			if err := yaml.Unmarshal([]byte(tt.yamlData), &p); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}

			if p.Type != tt.wantType {
				t.Errorf("Expected Type '%s', got '%s'", tt.wantType, p.Type)
			}
			if p.URL != tt.wantURL {
				t.Errorf("Expected URL '%s', got '%s'", tt.wantURL, p.URL)
			}
			if p.Server != tt.wantServer {
				t.Errorf("Expected Server '%s', got '%s'", tt.wantServer, p.Server)
			}
		})
	}
}
