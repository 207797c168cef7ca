// Package style models generation style settings as a fixed set of category
// variants and merges them in precedence order.
package style

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Background struct {
	Type   string `json:"type,omitempty"`
	Key    string `json:"key,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	Color  string `json:"color,omitempty"`
}

type Branding struct {
	Type     string `json:"type,omitempty"`
	LogoKey  string `json:"logoKey,omitempty"`
	Position string `json:"position,omitempty"`
}

type Clothing struct {
	Style       string   `json:"style,omitempty"`
	Details     string   `json:"details,omitempty"`
	Accessories []string `json:"accessories,omitempty"`
}

// ClothingColors follows the clothing mask layers.
type ClothingColors struct {
	TopLayer  string `json:"topLayer,omitempty"`
	BaseLayer string `json:"baseLayer,omitempty"`
	Bottom    string `json:"bottom,omitempty"`
	Shoes     string `json:"shoes,omitempty"`
}

type CustomClothing struct {
	AssetKey    string `json:"assetKey,omitempty"`
	Description string `json:"description,omitempty"`
}

// Choice is the shape shared by the single-option categories.
type Choice struct {
	Type    string `json:"type,omitempty"`
	Details string `json:"details,omitempty"`
}

// InputSelfies is embedded server-side so a stored generation can be re-run
// without the original request.
type InputSelfies struct {
	Keys     []string `json:"keys"`
	AssetIDs []string `json:"assetIds,omitempty"`
}

// Settings is the canonical settings object persisted with a generation.
type Settings struct {
	PackageID   string `json:"packageId,omitempty"`
	PresetID    string `json:"presetId,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`

	Background     *Background     `json:"background,omitempty"`
	Branding       *Branding       `json:"branding,omitempty"`
	Clothing       *Clothing       `json:"clothing,omitempty"`
	ClothingColors *ClothingColors `json:"clothingColors,omitempty"`
	CustomClothing *CustomClothing `json:"customClothing,omitempty"`
	Expression     *Choice         `json:"expression,omitempty"`
	Pose           *Choice         `json:"pose,omitempty"`
	ShotType       *Choice         `json:"shotType,omitempty"`
	Lighting       *Choice         `json:"lighting,omitempty"`

	InputSelfies *InputSelfies `json:"inputSelfies,omitempty"`
}

// Has reports whether the category carries a value.
func (s Settings) Has(c Category) bool {
	switch c {
	case CategoryBackground:
		return s.Background != nil
	case CategoryBranding:
		return s.Branding != nil
	case CategoryClothing:
		return s.Clothing != nil
	case CategoryClothingColors:
		return s.ClothingColors != nil
	case CategoryCustomClothing:
		return s.CustomClothing != nil
	case CategoryExpression:
		return s.Expression != nil
	case CategoryPose:
		return s.Pose != nil
	case CategoryShotType:
		return s.ShotType != nil
	case CategoryLighting:
		return s.Lighting != nil
	default:
		panic(fmt.Sprintf("style: unhandled category %q", c))
	}
}

func (s *Settings) clear(c Category) {
	switch c {
	case CategoryBackground:
		s.Background = nil
	case CategoryBranding:
		s.Branding = nil
	case CategoryClothing:
		s.Clothing = nil
	case CategoryClothingColors:
		s.ClothingColors = nil
	case CategoryCustomClothing:
		s.CustomClothing = nil
	case CategoryExpression:
		s.Expression = nil
	case CategoryPose:
		s.Pose = nil
	case CategoryShotType:
		s.ShotType = nil
	case CategoryLighting:
		s.Lighting = nil
	default:
		panic(fmt.Sprintf("style: unhandled category %q", c))
	}
}

// layer copies the category value of over on top of s.
func (s *Settings) layer(c Category, over Settings) {
	switch c {
	case CategoryBackground:
		s.Background = mergePtr(s.Background, over.Background, mergeBackground)
	case CategoryBranding:
		s.Branding = mergePtr(s.Branding, over.Branding, mergeBranding)
	case CategoryClothing:
		s.Clothing = mergePtr(s.Clothing, over.Clothing, mergeClothing)
	case CategoryClothingColors:
		s.ClothingColors = mergePtr(s.ClothingColors, over.ClothingColors, mergeClothingColors)
	case CategoryCustomClothing:
		s.CustomClothing = mergePtr(s.CustomClothing, over.CustomClothing, mergeCustomClothing)
	case CategoryExpression:
		s.Expression = mergePtr(s.Expression, over.Expression, mergeChoice)
	case CategoryPose:
		s.Pose = mergePtr(s.Pose, over.Pose, mergeChoice)
	case CategoryShotType:
		s.ShotType = mergePtr(s.ShotType, over.ShotType, mergeChoice)
	case CategoryLighting:
		s.Lighting = mergePtr(s.Lighting, over.Lighting, mergeChoice)
	default:
		panic(fmt.Sprintf("style: unhandled category %q", c))
	}
}

// Merge layers settings in increasing precedence: later layers win field by field.
func Merge(layers ...Settings) Settings {
	var out Settings
	for _, l := range layers {
		out.PackageID = pick(out.PackageID, l.PackageID)
		out.PresetID = pick(out.PresetID, l.PresetID)
		out.AspectRatio = pick(out.AspectRatio, l.AspectRatio)
		for _, c := range allCategories {
			out.layer(c, l)
		}
		if l.InputSelfies != nil {
			sel := *l.InputSelfies
			out.InputSelfies = &sel
		}
	}
	return out
}

// Project drops every category the package does not expose.
func Project(s Settings, visible CategorySet) Settings {
	out := s
	for _, c := range allCategories {
		if !visible.Has(c) {
			out.clear(c)
		}
	}
	return out
}

// ParseOverrides decodes requester-supplied settings. Any top-level key that is
// neither a meta key nor a visible category fails the whole payload.
func ParseOverrides(raw []byte, visible CategorySet) (Settings, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Settings{}, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return Settings{}, fmt.Errorf("decode style overrides: %w", err)
	}

	var disallowed []string
	for key := range keys {
		if _, ok := metaKeys[key]; ok {
			continue
		}
		c, ok := ParseCategory(key)
		if !ok || !visible.Has(c) {
			disallowed = append(disallowed, key)
		}
	}
	if len(disallowed) > 0 {
		return Settings{}, &DisallowedCategoryError{Keys: disallowed}
	}

	var s Settings
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("decode style overrides: %w", err)
	}
	s.PresetID = ""
	return s, nil
}

// Decode reads a stored settings blob.
func Decode(raw []byte) (Settings, error) {
	var s Settings
	if len(bytes.TrimSpace(raw)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("decode style settings: %w", err)
	}
	return s, nil
}

// Encode serializes settings for persistence.
func (s Settings) Encode() ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode style settings: %w", err)
	}
	return b, nil
}

// AssetKeys returns the storage keys of reusable inputs referenced by the settings.
func (s Settings) AssetKeys() (background, logo string) {
	if s.Background != nil {
		background = s.Background.Key
	}
	if s.Branding != nil {
		logo = s.Branding.LogoKey
	}
	return background, logo
}

func mergePtr[T any](base, over *T, merge func(T, T) T) *T {
	switch {
	case over == nil && base == nil:
		return nil
	case over == nil:
		v := *base
		return &v
	case base == nil:
		v := *over
		return &v
	default:
		v := merge(*base, *over)
		return &v
	}
}

func pick(base, over string) string {
	if over != "" {
		return over
	}
	return base
}

func mergeBackground(base, over Background) Background {
	return Background{
		Type:   pick(base.Type, over.Type),
		Key:    pick(base.Key, over.Key),
		Prompt: pick(base.Prompt, over.Prompt),
		Color:  pick(base.Color, over.Color),
	}
}

func mergeBranding(base, over Branding) Branding {
	return Branding{
		Type:     pick(base.Type, over.Type),
		LogoKey:  pick(base.LogoKey, over.LogoKey),
		Position: pick(base.Position, over.Position),
	}
}

func mergeClothing(base, over Clothing) Clothing {
	out := Clothing{
		Style:       pick(base.Style, over.Style),
		Details:     pick(base.Details, over.Details),
		Accessories: base.Accessories,
	}
	if over.Accessories != nil {
		out.Accessories = over.Accessories
	}
	return out
}

func mergeClothingColors(base, over ClothingColors) ClothingColors {
	return ClothingColors{
		TopLayer:  pick(base.TopLayer, over.TopLayer),
		BaseLayer: pick(base.BaseLayer, over.BaseLayer),
		Bottom:    pick(base.Bottom, over.Bottom),
		Shoes:     pick(base.Shoes, over.Shoes),
	}
}

func mergeCustomClothing(base, over CustomClothing) CustomClothing {
	return CustomClothing{
		AssetKey:    pick(base.AssetKey, over.AssetKey),
		Description: pick(base.Description, over.Description),
	}
}

func mergeChoice(base, over Choice) Choice {
	return Choice{
		Type:    pick(base.Type, over.Type),
		Details: pick(base.Details, over.Details),
	}
}
