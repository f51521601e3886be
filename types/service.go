package types

import "time"

// Backend capability names reported by ServiceStatus.
const (
	CapabilityTxt2Img   = "txt2img"
	CapabilityImg2Img   = "img2img"
	CapabilityImageTo3D = "image_to_3d"
	CapabilityTextTo3D  = "text_to_3d"
	CapabilityAsync     = "async"
	CapabilityTexture   = "texture"
	CapabilityImport    = "import"
)

// ServiceStatus is the result of a backend health check.
type ServiceStatus struct {
	Backend      string        `json:"backend"`
	Reachable    bool          `json:"reachable"`
	Capabilities []string      `json:"capabilities,omitempty"`
	Version      string        `json:"version,omitempty"`
	Latency      time.Duration `json:"latency"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// Has reports whether the backend advertised a capability.
func (s ServiceStatus) Has(capability string) bool {
	for _, c := range s.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
