package adapterinfo

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata keys exchanged with NAP TTS adapters on requests and chunks.
const (
	MetaVoice       = "voice"
	MetaInstruction = "instruction"
	MetaSampleRate  = "sample_rate"
	MetaChannels    = "channels"
)

// Metadata captures static identifiers for the tool.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	GeneratorID string
	Version     string
}

//go:embed plugin.yaml
var manifest []byte

// Info describes the current build.
var Info = mustLoadMetadata()

// SynthesisMetadata produces the standard metadata payload attached
// to emitted TTS audio chunks.
func SynthesisMetadata(provider, voice string, sampleRate int) map[string]string {
	return map[string]string{
		"generator":    Info.GeneratorID,
		"provider":     provider,
		MetaVoice:      voice,
		MetaSampleRate: strconv.Itoa(sampleRate),
	}
}

// Version returns the semantic version from the manifest.
func Version() string {
	return Info.Version
}

func mustLoadMetadata() Metadata {
	meta, err := parseManifest(manifest)
	if err != nil {
		panic(err)
	}
	return meta
}

type manifestDocument struct {
	Metadata struct {
		Name        string `yaml:"name"`
		Slug        string `yaml:"slug"`
		Description string `yaml:"description"`
		Version     string `yaml:"version"`
		Generator   string `yaml:"generator"`
	} `yaml:"metadata"`
	Spec struct {
		Entrypoint struct {
			Command string `yaml:"command"`
		} `yaml:"entrypoint"`
	} `yaml:"spec"`
}

func parseManifest(data []byte) (Metadata, error) {
	var doc manifestDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Metadata{}, fmt.Errorf("adapterinfo: decode manifest: %w", err)
	}

	meta := Metadata{
		Name:        strings.TrimSpace(doc.Metadata.Name),
		Slug:        strings.TrimSpace(doc.Metadata.Slug),
		Description: strings.TrimSpace(doc.Metadata.Description),
		Version:     strings.TrimSpace(doc.Metadata.Version),
		GeneratorID: strings.TrimSpace(doc.Metadata.Generator),
	}
	if meta.Version == "" {
		return Metadata{}, fmt.Errorf("adapterinfo: metadata.version missing in manifest")
	}
	if meta.Slug == "" {
		return Metadata{}, fmt.Errorf("adapterinfo: metadata.slug missing in manifest")
	}
	if meta.Name == "" {
		meta.Name = meta.Slug
	}
	if meta.Description == "" {
		meta.Description = meta.Name
	}

	meta.BinaryName = strings.TrimPrefix(strings.TrimSpace(doc.Spec.Entrypoint.Command), "./")
	if meta.BinaryName == "" {
		meta.BinaryName = meta.Slug
	}
	if meta.GeneratorID == "" {
		meta.GeneratorID = meta.Slug
	}
	return meta, nil
}
