package gemini

import (
	"bytes"
	"embed"
	"fmt"
	"mime"
	"net/url"
	"path"
	"text/template"

	"github.com/phrazzld/garmax-api/internal/domain"
	"google.golang.org/genai"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

const defaultImageMIME = "image/jpeg"

// promptData is the data passed to the prompt templates.
type promptData struct {
	Quality      domain.RenderQuality
	Instructions string
	Maps         []domain.GuidanceMap
}

// Prompts renders the request contents for each payload kind.
type Prompts struct {
	tmpl *template.Template
}

// LoadPrompts parses the embedded templates.
func LoadPrompts() (*Prompts, error) {
	tmpl, err := template.ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}
	return &Prompts{tmpl: tmpl}, nil
}

// Contents builds the user turn for payload: the rendered prompt followed
// by the referenced images.
func (p *Prompts) Contents(payload domain.Payload) ([]*genai.Content, error) {
	var (
		name   string
		data   promptData
		images []string
	)
	switch pl := payload.(type) {
	case *domain.TryOnRenderPayload:
		name = "tryon_render.tmpl"
		data = promptData{Quality: pl.EffectiveQuality(), Instructions: pl.Instructions}
		images = []string{pl.AvatarImageURI, pl.GarmentImageURI}
	case *domain.GuidancePayload:
		name = "guidance.tmpl"
		data = promptData{Maps: pl.Maps}
		images = []string{pl.AvatarImageURI}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, payload)
	}

	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to execute prompt template %s: %w", name, err)
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, genai.NewPartFromText(buf.String()))
	for _, uri := range images {
		parts = append(parts, genai.NewPartFromURI(uri, imageMIME(uri)))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

// imageMIME guesses an image type from the URI's extension.
func imageMIME(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultImageMIME
	}
	if t := mime.TypeByExtension(path.Ext(u.Path)); t != "" {
		return t
	}
	return defaultImageMIME
}
