package director

import "fmt"

// Capability identifies a class of external generation tool that the
// orchestrator can invoke. The set is closed: every JobSpec targets exactly
// one capability and the gateway decides how that capability is reached.
type Capability string

const (
	CapabilityResearch Capability = "research"
	CapabilityTTS      Capability = "tts"
	CapabilityMusic    Capability = "music"
	CapabilityImage    Capability = "image"
	CapabilityVideo    Capability = "video"
	CapabilityMux      Capability = "mux"
)

// Capabilities lists all known capabilities in a stable order.
func Capabilities() []Capability {
	return []Capability{
		CapabilityResearch,
		CapabilityTTS,
		CapabilityMusic,
		CapabilityImage,
		CapabilityVideo,
		CapabilityMux,
	}
}

// Valid reports whether the capability is one of the known values.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityResearch, CapabilityTTS, CapabilityMusic,
		CapabilityImage, CapabilityVideo, CapabilityMux:
		return true
	}
	return false
}

// ParseCapability converts a string to a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown capability %q", s)
	}
	return c, nil
}
