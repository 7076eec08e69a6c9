// Package outreach renders message templates and drives the rate-limited
// dispatch loop against the WhatsApp gateway session.
package outreach

import (
	"os"
	"sort"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/saribumi/brandreach/internal/model"
)

// ErrUnknownTemplate is returned when a dispatch references a template id
// that is not in the catalog. It is a configuration error and is rejected
// before any message is sent.
var ErrUnknownTemplate = eris.New("unknown message template")

// templateData is the render context for one message.
type templateData struct {
	BrandName string
	Category  string
}

// Catalog holds parsed message templates keyed by id.
type Catalog struct {
	templates map[string]*template.Template
}

type catalogFile struct {
	Templates []struct {
		ID   string `yaml:"id"`
		Body string `yaml:"body"`
	} `yaml:"templates"`
}

// defaultTemplates are the built-in Indonesian outreach messages, used when
// no catalog file is configured.
var defaultTemplates = map[string]string{
	"introduction": `Halo {{.BrandName}}!

Saya tertarik dengan produk kecantikan yang Anda tawarkan.
Boleh saya mendapatkan informasi lebih lanjut tentang:
- Katalog produk terbaru
- Harga dan paket yang tersedia
- Sistem reseller/distributor

Terima kasih!`,

	"collaboration": `Halo {{.BrandName}}!

Saya dari tim marketing yang sedang mencari partner brand kecantikan lokal berkualitas.
Apakah Anda terbuka untuk diskusi mengenai kolaborasi atau kemitraan?

Kami tertarik dengan:
- Program reseller
- Kolaborasi konten
- Event partnership

Mohon info lebih lanjut. Terima kasih!`,

	"customer_inquiry": `Halo! Saya customer yang tertarik dengan produk {{.BrandName}}.

Bisa tolong kirimkan informasi:
- Produk best seller
- Harga dan cara order
- Testimoni customer
- Lokasi toko/cara pengiriman

Ditunggu balasannya ya!`,
}

// DefaultCatalog returns the built-in template catalog.
func DefaultCatalog() *Catalog {
	c, err := buildCatalog(defaultTemplates)
	if err != nil {
		// The built-in templates are static; a parse failure is a bug.
		panic(err)
	}
	return c
}

// LoadCatalog reads a YAML template catalog from path. An empty path yields
// the built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "outreach: read template catalog %s", path)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "outreach: parse template catalog %s", path)
	}
	if len(file.Templates) == 0 {
		return nil, eris.Errorf("outreach: template catalog %s has no templates", path)
	}
	bodies := make(map[string]string, len(file.Templates))
	for _, t := range file.Templates {
		if t.ID == "" {
			return nil, eris.Errorf("outreach: template catalog %s has a template without an id", path)
		}
		if _, dup := bodies[t.ID]; dup {
			return nil, eris.Errorf("outreach: duplicate template id %q in %s", t.ID, path)
		}
		bodies[t.ID] = t.Body
	}
	return buildCatalog(bodies)
}

func buildCatalog(bodies map[string]string) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*template.Template, len(bodies))}
	for id, body := range bodies {
		tmpl, err := template.New(id).Parse(body)
		if err != nil {
			return nil, eris.Wrapf(err, "outreach: parse template %q", id)
		}
		c.templates[id] = tmpl
	}
	return c, nil
}

// Has reports whether the catalog contains a template with the given id.
func (c *Catalog) Has(id string) bool {
	_, ok := c.templates[id]
	return ok
}

// IDs returns the catalog's template ids, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Render produces the message body for a brand using the given template id.
func (c *Catalog) Render(id string, b model.Brand) (string, error) {
	tmpl, ok := c.templates[id]
	if !ok {
		return "", eris.Wrapf(ErrUnknownTemplate, "%s", id)
	}
	name := b.DisplayName
	if name == "" {
		name = "Brand"
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, templateData{
		BrandName: name,
		Category:  string(b.Category),
	}); err != nil {
		return "", eris.Wrapf(err, "outreach: render template %q", id)
	}
	return sb.String(), nil
}
