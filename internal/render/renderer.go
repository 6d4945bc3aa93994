// Package render turns a wave, a recipient and a tracking code into the HTML
// and plain-text bodies of one mail, and renders per-wave video descriptions.
package render

import (
	"bytes"
	"embed"
	"fmt"
	htmlTemplate "html/template"
	"regexp"
	"strings"
	textTemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/foxzi/chainmail/internal/campaign"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Stat is one figure of the statistics block
type Stat struct {
	Value string `yaml:"value"`
	Label string `yaml:"label"`
}

// Options is the campaign-wide copy shared by every mail
type Options struct {
	// Name is the campaign name printed in descriptions
	Name              string
	Links             campaign.Links
	PixelBaseURL      string
	TotalWaves        int
	RecipientsPerWave int
	Stats             []Stat
	Signature         string

	// Description only
	Facts       []string
	Hashtags    string
	PlaylistURL string
}

// DefaultOptions returns the stock campaign copy and links
func DefaultOptions() Options {
	return Options{
		Name: "LA CONSTELLATION",
		Links: campaign.Links{
			Bluesky: "https://bsky.app/profile/ouaisfi.eu",
			YouTube: "https://www.youtube.com/@ouaisfieu",
			Website: "https://ouaisfieu.github.io/constellation/",
		},
		PixelBaseURL:      "https://ouaisfieu.github.io/constellation/t/",
		TotalWaves:        42,
		RecipientsPerWave: 9,
		Stats: []Stat{
			{Value: "975 243", Label: "personnes piégées"},
			{Value: "614", Label: "contacts pour s'organiser"},
			{Value: "42", Label: "messages envoyés"},
			{Value: "378", Label: "destinataires"},
		},
		Signature: "✧",
		Facts: []string{
			"975 243 personnes piégées dans le système belge",
			"52,6% de tax wedge (record OCDE)",
			"527 000 invalides officiels",
			"180 000 exclusions Arizona 2026",
			"614 contacts pour s'organiser",
		},
		Hashtags: "#LaConstellation #Belgique #ProtectionSociale #Arizona2026 #975243",
	}
}

// Result is one rendered mail
type Result struct {
	Subject  string
	HTML     string
	Text     string
	Code     string
	VideoURL string
	PixelURL string
}

// Renderer renders mails and descriptions. It is safe for concurrent use.
type Renderer struct {
	catalog     *campaign.Catalog
	opts        Options
	html        *htmlTemplate.Template
	text        *textTemplate.Template
	description *textTemplate.Template
	md          goldmark.Markdown
	policy      *bluemonday.Policy
}

// New parses the embedded templates
func New(catalog *campaign.Catalog, opts Options) (*Renderer, error) {
	htmlTmpl, err := htmlTemplate.ParseFS(templateFS, "templates/mail.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse html template: %w", err)
	}
	textTmpl, err := textTemplate.ParseFS(templateFS, "templates/mail.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse text template: %w", err)
	}
	descTmpl, err := textTemplate.ParseFS(templateFS, "templates/description.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse description template: %w", err)
	}

	if opts.TotalWaves <= 0 {
		opts.TotalWaves = catalog.Len()
	}

	// Fragments may carry emphasis and links, nothing else
	policy := bluemonday.NewPolicy()
	policy.AllowStandardURLs()
	policy.AllowElements("p", "br", "strong", "em")
	policy.AllowAttrs("href").OnElements("a")
	policy.RequireNoFollowOnLinks(true)

	return &Renderer{
		catalog:     catalog,
		opts:        opts,
		html:        htmlTmpl,
		text:        textTmpl,
		description: descTmpl,
		md:          goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps())),
		policy:      policy,
	}, nil
}

// Options returns the options the renderer was built with
func (r *Renderer) Options() Options {
	return r.opts
}

type mailData struct {
	Subject           string
	Greeting          string
	Hook              string
	IntroHTML         htmlTemplate.HTML
	IntroText         string
	AngleHTML         htmlTemplate.HTML
	AngleText         string
	VideoURL          string
	VideoTitle        string
	Links             campaign.Links
	HasLinks          bool
	Stats             []Stat
	Signature         string
	WaveID            int
	TotalWaves        int
	RecipientsPerWave int
	Code              string
	PixelURL          string
}

// Subject returns the subject line of a wave
func (r *Renderer) Subject(wave campaign.Wave) string {
	if s := strings.TrimSpace(wave.Subject); s != "" {
		return s
	}
	return r.catalog.SubjectFor(wave.ID)
}

// Render renders one mail. The same inputs always produce the same output.
func (r *Renderer) Render(wave campaign.Wave, recipient campaign.Recipient, code string) (*Result, error) {
	subject := r.Subject(wave)

	data := mailData{
		Subject:           subject,
		Greeting:          strings.TrimSpace(recipient.Name),
		Hook:              r.catalog.HookFor(wave.ID, subject),
		VideoURL:          wave.VideoURL(),
		VideoTitle:        wave.VideoTitle,
		Links:             r.opts.Links,
		HasLinks:          r.opts.Links.Bluesky != "" || r.opts.Links.YouTube != "" || r.opts.Links.Website != "",
		Stats:             r.opts.Stats,
		Signature:         r.opts.Signature,
		WaveID:            wave.ID,
		TotalWaves:        r.opts.TotalWaves,
		RecipientsPerWave: r.opts.RecipientsPerWave,
		Code:              code,
	}
	if r.opts.PixelBaseURL != "" && code != "" {
		data.PixelURL = r.opts.PixelBaseURL + code + ".gif"
	}

	if intro := strings.TrimSpace(wave.CustomIntro); intro != "" {
		data.IntroText = intro
		data.IntroHTML = r.fragment(intro)
	} else {
		data.IntroText = fmt.Sprintf("Ce mail fait partie d'une série de %d. Tu reçois le numéro %d.", r.opts.TotalWaves, wave.ID)
		data.IntroHTML = htmlTemplate.HTML(fmt.Sprintf("Ce mail fait partie d'une série de %d. Tu reçois le numéro <strong>%d</strong>.", r.opts.TotalWaves, wave.ID))
	}

	if angle := strings.TrimSpace(recipient.Angle); angle != "" {
		data.AngleText = angle
		data.AngleHTML = r.fragment(angle)
	}

	var htmlBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}

	var textBuf bytes.Buffer
	if err := r.text.Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render text: %w", err)
	}

	return &Result{
		Subject:  subject,
		HTML:     htmlBuf.String(),
		Text:     tidy(textBuf.String()),
		Code:     code,
		VideoURL: data.VideoURL,
		PixelURL: data.PixelURL,
	}, nil
}

type descriptionData struct {
	Name              string
	Hook              string
	Theme             string
	WaveID            int
	TotalWaves        int
	RecipientsPerWave int
	TotalRecipients   int
	Facts             []string
	Links             campaign.Links
	PlaylistURL       string
	Hashtags          string
}

// Description renders the text posted under the wave's video
func (r *Renderer) Description(wave campaign.Wave) (string, error) {
	theme := strings.TrimSpace(wave.Theme)
	if theme == "" {
		theme = r.catalog.ThemeFor(wave.ID)
	}

	data := descriptionData{
		Name:              r.opts.Name,
		Hook:              r.catalog.HookFor(wave.ID, r.Subject(wave)),
		Theme:             theme,
		WaveID:            wave.ID,
		TotalWaves:        r.opts.TotalWaves,
		RecipientsPerWave: r.opts.RecipientsPerWave,
		TotalRecipients:   r.opts.TotalWaves * r.opts.RecipientsPerWave,
		Facts:             r.opts.Facts,
		Links:             r.opts.Links,
		PlaylistURL:       r.opts.PlaylistURL,
		Hashtags:          r.opts.Hashtags,
	}

	var buf bytes.Buffer
	if err := r.description.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render description: %w", err)
	}
	return tidy(buf.String()), nil
}

// fragment renders inline markdown and strips everything the policy does not allow
func (r *Renderer) fragment(src string) htmlTemplate.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return htmlTemplate.HTML(htmlTemplate.HTMLEscapeString(src))
	}
	return htmlTemplate.HTML(strings.TrimSpace(r.policy.Sanitize(buf.String())))
}

func tidy(s string) string {
	return blankRuns.ReplaceAllString(strings.TrimSpace(s), "\n\n") + "\n"
}
