package portrait

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/talking-portrait/internal/animate"
	apperr "github.com/GriffinCanCode/talking-portrait/internal/errors"
	"github.com/GriffinCanCode/talking-portrait/internal/resilience"
	"github.com/GriffinCanCode/talking-portrait/internal/trace"
)

// Voices maps inferred gender to prebuilt voice names.
type Voices struct {
	Male    string
	Female  string
	Default string
}

// For returns the voice for a gender, or the default voice.
func (v Voices) For(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male":
		return v.Male
	case "female":
		return v.Female
	default:
		return v.Default
	}
}

// Analysis is what the model derived from a photo.
type Analysis struct {
	Persona string               `json:"persona"`
	Voice   string               `json:"voice"`
	Mouth   *animate.MouthRegion `json:"mouth,omitempty"`
}

// Portrait is an analysed photo ready for a conversation.
type Portrait struct {
	ID        string      `json:"id"`
	Image     image.Image `json:"-"`
	Reference bool        `json:"reference"`
	Cached    bool        `json:"cached"`
	Analysis
}

// Options configures an Analyzer.
type Options struct {
	MaxSize int
	Voices  Voices
	Cache   *Cache // nil disables caching
	Retry   resilience.RetryConfig
	Breaker *resilience.Breaker
}

// Analyzer runs the persona, mouth and voice calls for an uploaded photo.
type Analyzer struct {
	gen     Generator
	opts    Options
	breaker *resilience.Breaker
}

// NewAnalyzer creates an analyzer backed by gen.
func NewAnalyzer(gen Generator, opts Options) *Analyzer {
	b := opts.Breaker
	if b == nil {
		b = resilience.New(resilience.AnalysisConfig())
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry = resilience.AnalysisRetryConfig()
	}
	return &Analyzer{gen: gen, opts: opts, breaker: b}
}

// Breaker exposes the circuit breaker guarding the model calls.
func (a *Analyzer) Breaker() *resilience.Breaker { return a.breaker }

// Analyze decodes data and derives the persona, mouth region and voice.
// reference reports that the user supplied reference media, which skips gender
// inference and selects the default voice. Only a persona failure is an error:
// mouth and voice failures degrade silently.
func (a *Analyzer) Analyze(ctx context.Context, data []byte, reference bool) (*Portrait, error) {
	ctx, span := trace.StartSpan(ctx, "analyze_portrait")
	defer span.End()
	log := trace.Logger(ctx)

	img, err := Decode(data, a.opts.MaxSize)
	if err != nil {
		return nil, err
	}
	p := &Portrait{ID: uuid.NewString(), Image: img, Reference: reference}
	span.SetAttr("portrait_id", p.ID)

	hash, err := Hash(img)
	if err != nil {
		log.Debug("perceptual hash failed", "error", err)
	}
	if a.opts.Cache != nil {
		if cached, ok := a.opts.Cache.Get(hash, reference); ok {
			p.Analysis, p.Cached = cached, true
			span.SetAttr("cached", true)
			return p, nil
		}
	}

	jpegData, err := EncodeJPEG(img, AnalysisJPEGQuality)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		persona, err := a.Persona(gctx, jpegData)
		p.Persona = persona
		return err
	})
	g.Go(func() error {
		p.Mouth = a.MouthRegion(gctx, jpegData)
		return nil
	})
	g.Go(func() error {
		p.Voice = a.Voice(gctx, jpegData, reference)
		return nil
	})
	if err := g.Wait(); err != nil {
		span.SetAttr("error", err.Error())
		return nil, err
	}

	log.Info("portrait analysed", "voice", p.Voice, "mouth", p.Mouth != nil)
	if a.opts.Cache != nil {
		a.opts.Cache.Put(hash, reference, p.Analysis)
	}
	return p, nil
}

// Persona asks for a first-person system instruction describing the subject.
func (a *Analyzer) Persona(ctx context.Context, jpegData []byte) (string, error) {
	text, err := a.call(ctx, Request{Prompt: personaPrompt, Image: jpegData, MIMEType: "image/jpeg"})
	if err != nil {
		return "", err
	}
	text = limitWords(strings.TrimSpace(text), MaxPersonaWords)
	if text == "" {
		return "", apperr.New(apperr.CodeLLMAPIError, "empty persona")
	}
	return text, nil
}

// MouthRegion asks for the lip box. Any failure returns nil, which disables animation.
func (a *Analyzer) MouthRegion(ctx context.Context, jpegData []byte) *animate.MouthRegion {
	log := trace.Logger(ctx)
	text, err := a.call(ctx, Request{Prompt: mouthPrompt, Image: jpegData, MIMEType: "image/jpeg", JSON: true})
	if err != nil {
		log.Warn("mouth detection failed", "error", err)
		return nil
	}
	region, err := ParseMouthRegion(text)
	if err != nil {
		log.Warn("mouth detection unparsable", "error", err)
		return nil
	}
	return region
}

// Voice infers gender and maps it to a voice. With reference media the default
// voice is used without asking the model.
func (a *Analyzer) Voice(ctx context.Context, jpegData []byte, reference bool) string {
	if reference {
		return a.opts.Voices.Default
	}
	log := trace.Logger(ctx)
	text, err := a.call(ctx, Request{Prompt: genderPrompt, Image: jpegData, MIMEType: "image/jpeg", JSON: true})
	if err != nil {
		log.Warn("gender inference failed", "error", err)
		return a.opts.Voices.Default
	}
	var out struct {
		Gender string `json:"gender"`
	}
	if err := unmarshalJSON(text, &out); err != nil {
		log.Warn("gender inference unparsable", "error", err)
		return a.opts.Voices.Default
	}
	return a.opts.Voices.For(out.Gender)
}

func (a *Analyzer) call(ctx context.Context, req Request) (string, error) {
	return resilience.Call(ctx, a.breaker, a.opts.Retry, func(ctx context.Context) (string, error) {
		return a.gen.Generate(ctx, req)
	})
}

// ParseMouthRegion parses the model's mouth JSON into a validated region.
func ParseMouthRegion(text string) (*animate.MouthRegion, error) {
	var region animate.MouthRegion
	if err := unmarshalJSON(text, &region); err != nil {
		return nil, err
	}
	if err := region.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeParse, "invalid mouth region")
	}
	return &region, nil
}

// unmarshalJSON decodes model output, tolerating code fences and repairing
// malformed JSON before giving up with a PARSE_FAILED error.
func unmarshalJSON(text string, v any) error {
	text = stripFences(text)
	if text == "" {
		return apperr.New(apperr.CodeParse, "empty response")
	}
	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return apperr.Wrap(err, apperr.CodeParse, "unexpected JSON shape")
	}
	fixed, rerr := jsonrepair.JSONRepair(text)
	if rerr != nil {
		return apperr.Wrap(err, apperr.CodeParse, "malformed JSON")
	}
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return apperr.Wrap(err, apperr.CodeParse, "malformed JSON after repair")
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func limitWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return s
	}
	return strings.Join(words[:n], " ")
}
