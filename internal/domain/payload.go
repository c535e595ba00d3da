package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// WorkKind names a payload variant.
type WorkKind string

// Supported work kinds.
const (
	WorkKindTryOnRender WorkKind = "tryon_render"
	WorkKindGuidance    WorkKind = "guidance"
)

// IsValid reports whether k is a known kind.
func (k WorkKind) IsValid() bool {
	return k == WorkKindTryOnRender || k == WorkKindGuidance
}

// Payload is the closed set of work descriptions a request may carry.
type Payload interface {
	Kind() WorkKind
	Validate() error
}

// RenderQuality selects the output resolution of a try-on render.
type RenderQuality string

// Render qualities.
const (
	RenderQualityStandard RenderQuality = "standard"
	RenderQualityHD       RenderQuality = "hd"
)

// TryOnRenderPayload asks for the garment to be rendered onto the avatar.
type TryOnRenderPayload struct {
	AvatarImageURI  string        `json:"avatar_image_uri" validate:"required,uri"`
	GarmentImageURI string        `json:"garment_image_uri" validate:"required,uri"`
	Quality         RenderQuality `json:"quality,omitempty" validate:"omitempty,oneof=standard hd"`
	Instructions    string        `json:"instructions,omitempty" validate:"max=2000"`
}

// Kind implements Payload.
func (p *TryOnRenderPayload) Kind() WorkKind { return WorkKindTryOnRender }

// Validate implements Payload.
func (p *TryOnRenderPayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// EffectiveQuality returns the requested quality or the standard default.
func (p *TryOnRenderPayload) EffectiveQuality() RenderQuality {
	if p.Quality == "" {
		return RenderQualityStandard
	}
	return p.Quality
}

// GuidanceMap is one of the auxiliary maps extracted from an avatar photo.
type GuidanceMap string

// Guidance maps.
const (
	GuidanceMapDepth        GuidanceMap = "depth"
	GuidanceMapNormals      GuidanceMap = "normals"
	GuidanceMapPose         GuidanceMap = "pose"
	GuidanceMapSegmentation GuidanceMap = "segmentation"
)

// GuidancePayload asks for guidance maps of an avatar photo.
type GuidancePayload struct {
	AvatarImageURI string        `json:"avatar_image_uri" validate:"required,uri"`
	Maps           []GuidanceMap `json:"maps" validate:"required,min=1,max=4,unique,dive,oneof=depth normals pose segmentation"`
}

// Kind implements Payload.
func (p *GuidancePayload) Kind() WorkKind { return WorkKindGuidance }

// Validate implements Payload.
func (p *GuidancePayload) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// ValidatePayload rejects nil payloads and payloads failing their own rules.
func ValidatePayload(p Payload) error {
	if p == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if !p.Kind().IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, p.Kind())
	}
	return p.Validate()
}

// DecodePayload parses raw JSON into the variant named by kind and validates
// it. Unknown fields are rejected.
func DecodePayload(kind WorkKind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case WorkKindTryOnRender:
		p = &TryOnRenderPayload{}
	case WorkKindGuidance:
		p = &GuidancePayload{}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
