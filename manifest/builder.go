package manifest

import (
	"strconv"

	director "github.com/charles-forsyth/director-agent"
)

// BuildPipeline expands a production manifest into the generation pipeline:
// one research job feeding every visual, one shared reference-image job per
// reference group, per-scene visual, narration and music jobs, a per-scene
// mux combining each scene's assets, and a final mux concatenating all
// scenes in manifest order.
func BuildPipeline(m *ProductionManifest) (*director.Pipeline, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	jobs := []director.JobSpec{{
		Name:       "research",
		Capability: director.CapabilityResearch,
		Parameters: map[string]string{
			"title": m.Title,
			"topic": m.Topic,
		},
	}}

	// Shared reference images, one per group, in first-appearance order.
	referenceJobs := make(map[string]string)
	for _, scene := range m.Scenes {
		group := scene.ReferenceGroup
		if group == "" || referenceJobs[group] != "" {
			continue
		}
		name := "reference-" + group
		referenceJobs[group] = name
		jobs = append(jobs, director.JobSpec{
			Name:       name,
			Capability: director.CapabilityImage,
			Parameters: map[string]string{
				"prompt": referencePrompt(m, group),
				"role":   "reference",
			},
			DependsOn: []string{"research"},
		})
	}

	var sceneMuxes []string
	for _, scene := range m.Scenes {
		visualName := "scene-" + scene.ID + "-visual"
		visualCapability := director.CapabilityImage
		if scene.VisualType == VisualTypeVideo {
			visualCapability = director.CapabilityVideo
		}
		visualDeps := []string{"research"}
		if scene.ReferenceGroup != "" {
			visualDeps = append(visualDeps, referenceJobs[scene.ReferenceGroup])
		}
		jobs = append(jobs, director.JobSpec{
			Name:       visualName,
			Capability: visualCapability,
			Parameters: map[string]string{
				"scene":    scene.ID,
				"prompt":   scene.VisualPrompt,
				"duration": formatSeconds(scene.DurationSeconds),
			},
			DependsOn: visualDeps,
		})

		muxDeps := []string{visualName}
		if scene.AudioSource == AudioSourceGenerated {
			ttsName := "scene-" + scene.ID + "-narration"
			jobs = append(jobs, director.JobSpec{
				Name:       ttsName,
				Capability: director.CapabilityTTS,
				Parameters: map[string]string{
					"scene": scene.ID,
					"text":  scene.NarrationText,
					"voice": scene.VoiceID,
				},
			})
			muxDeps = append(muxDeps, ttsName)
		}
		if scene.MusicPrompt != "" {
			musicName := "scene-" + scene.ID + "-music"
			jobs = append(jobs, director.JobSpec{
				Name:       musicName,
				Capability: director.CapabilityMusic,
				Parameters: map[string]string{
					"scene":    scene.ID,
					"prompt":   scene.MusicPrompt,
					"duration": formatSeconds(scene.DurationSeconds),
				},
			})
			muxDeps = append(muxDeps, musicName)
		}

		muxName := "scene-" + scene.ID + "-mux"
		jobs = append(jobs, director.JobSpec{
			Name:       muxName,
			Capability: director.CapabilityMux,
			Parameters: map[string]string{
				"scene":        scene.ID,
				"audio_source": string(scene.AudioSource),
				"duration":     formatSeconds(scene.DurationSeconds),
			},
			DependsOn: muxDeps,
		})
		sceneMuxes = append(sceneMuxes, muxName)
	}

	jobs = append(jobs, director.JobSpec{
		Name:       "final-mux",
		Capability: director.CapabilityMux,
		Parameters: map[string]string{
			"mode":  "concat",
			"title": m.Title,
		},
		DependsOn: sceneMuxes,
	})

	return director.New(director.Options{
		Name: m.Title,
		Jobs: jobs,
	})
}

func referencePrompt(m *ProductionManifest, group string) string {
	for _, scene := range m.Scenes {
		if scene.ReferenceGroup == group && scene.ReferencePrompt != "" {
			return scene.ReferencePrompt
		}
	}
	return ""
}

func formatSeconds(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}
