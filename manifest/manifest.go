// Package manifest defines the production manifest, the human-authored
// description of a video production, and builds the generation pipeline
// from it.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// VisualType selects how a scene's visual is produced.
type VisualType string

const (
	VisualTypeVideo VisualType = "video"
	VisualTypeImage VisualType = "image"
)

// AudioSource selects where a scene's audio comes from.
type AudioSource string

const (
	// AudioSourceNative keeps the audio embedded in the generated video.
	AudioSourceNative AudioSource = "native"

	// AudioSourceGenerated synthesizes narration from the scene text.
	AudioSourceGenerated AudioSource = "generated"

	AudioSourceSilent AudioSource = "silent"
)

// Scene is one shot of the production.
type Scene struct {
	ID              string     `yaml:"id"`
	DurationSeconds float64    `yaml:"duration_seconds"`
	VisualType      VisualType `yaml:"visual_type"`
	VisualPrompt    string     `yaml:"visual_prompt"`

	// ReferenceGroup names a shared reference image; scenes with the same
	// group are generated against the same reference for visual
	// consistency.
	ReferenceGroup  string `yaml:"reference_group,omitempty"`
	ReferencePrompt string `yaml:"reference_prompt,omitempty"`

	AudioSource   AudioSource `yaml:"audio_source"`
	NarrationText string      `yaml:"narration_text,omitempty"`
	VoiceID       string      `yaml:"voice_id,omitempty"`
	MusicPrompt   string      `yaml:"music_prompt,omitempty"`
}

// ProductionManifest describes a full production.
type ProductionManifest struct {
	Title  string  `yaml:"title"`
	Topic  string  `yaml:"topic,omitempty"`
	Scenes []Scene `yaml:"scenes"`
}

// TotalDuration sums the scene durations.
func (m *ProductionManifest) TotalDuration() float64 {
	var total float64
	for _, scene := range m.Scenes {
		total += scene.DurationSeconds
	}
	return total
}

// Load reads and validates a manifest file.
func Load(path string) (*ProductionManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (*ProductionManifest, error) {
	var m ProductionManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest for structural problems.
func (m *ProductionManifest) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("manifest title is required")
	}
	if len(m.Scenes) == 0 {
		return fmt.Errorf("manifest %q has no scenes", m.Title)
	}

	seen := make(map[string]bool, len(m.Scenes))
	groupPrompts := make(map[string]string)
	for i, scene := range m.Scenes {
		if strings.TrimSpace(scene.ID) == "" {
			return fmt.Errorf("scene %d: id is required", i)
		}
		if seen[scene.ID] {
			return fmt.Errorf("scene %q: duplicate id", scene.ID)
		}
		seen[scene.ID] = true

		if scene.DurationSeconds <= 0 {
			return fmt.Errorf("scene %q: duration_seconds must be positive", scene.ID)
		}
		switch scene.VisualType {
		case VisualTypeVideo, VisualTypeImage:
		default:
			return fmt.Errorf("scene %q: visual_type must be video or image, got %q", scene.ID, scene.VisualType)
		}
		if strings.TrimSpace(scene.VisualPrompt) == "" {
			return fmt.Errorf("scene %q: visual_prompt is required", scene.ID)
		}
		switch scene.AudioSource {
		case AudioSourceNative, AudioSourceGenerated, AudioSourceSilent:
		default:
			return fmt.Errorf("scene %q: audio_source must be native, generated or silent, got %q", scene.ID, scene.AudioSource)
		}
		if scene.AudioSource == AudioSourceNative && scene.VisualType != VisualTypeVideo {
			return fmt.Errorf("scene %q: native audio requires a video visual", scene.ID)
		}
		if scene.AudioSource == AudioSourceGenerated && strings.TrimSpace(scene.NarrationText) == "" {
			return fmt.Errorf("scene %q: generated audio requires narration_text", scene.ID)
		}

		if scene.ReferenceGroup != "" && scene.ReferencePrompt != "" {
			groupPrompts[scene.ReferenceGroup] = scene.ReferencePrompt
		}
	}

	for _, scene := range m.Scenes {
		if scene.ReferenceGroup != "" && groupPrompts[scene.ReferenceGroup] == "" {
			return fmt.Errorf("scene %q: reference group %q has no reference_prompt on any scene", scene.ID, scene.ReferenceGroup)
		}
	}
	return nil
}
