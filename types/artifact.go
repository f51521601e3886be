package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ArtifactKind identifies what a backend produced.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactMesh  ArtifactKind = "mesh"
	ArtifactScene ArtifactKind = "scene"
)

// Artifact is a generated image, mesh/texture object or scene object.
// Data holds the raw payload for images and meshes; it is never serialized
// into reports, only its digest and size are.
type Artifact struct {
	Kind      ArtifactKind      `json:"kind"`
	Ref       string            `json:"ref"`
	Format    string            `json:"format,omitempty"`
	Size      int               `json:"size,omitempty"`
	Digest    string            `json:"digest,omitempty"`
	Seed      int64             `json:"seed,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Data      []byte            `json:"-"`
}

// NewArtifact builds an artifact around a payload and fills size and digest.
func NewArtifact(kind ArtifactKind, ref, format string, data []byte) *Artifact {
	a := &Artifact{
		Kind:      kind,
		Ref:       ref,
		Format:    format,
		Size:      len(data),
		CreatedAt: time.Now(),
		Data:      data,
	}
	if len(data) > 0 {
		sum := sha256.Sum256(data)
		a.Digest = hex.EncodeToString(sum[:8])
	}
	return a
}

// Usable reports whether the artifact can feed a downstream stage.
func (a *Artifact) Usable() bool {
	if a == nil {
		return false
	}
	if a.Kind == ArtifactScene {
		return a.Ref != ""
	}
	return len(a.Data) > 0
}
