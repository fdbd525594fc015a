package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/docledger/docledger/internal/logging"
	"github.com/docledger/docledger/internal/model"
)

// FallbackModel is used when model discovery finds nothing suitable.
const FallbackModel = "gemini-1.5-flash"

const systemPrompt = `You read scanned invoices and receipts and return a single JSON object.
Never return prose. If the image is unreadable or is not an invoice or receipt, return {"error": "Image unclear/Not invoice"}.`

// GeminiConfig selects the Gemini API or Vertex AI.
type GeminiConfig struct {
	Backend  string // "gemini" or "vertex"
	APIKey   string
	Project  string
	Location string
	Model    string // a model name, or "auto"
	Timeout  time.Duration
}

// Gemini is a Backend backed by google.golang.org/genai.
type Gemini struct {
	client *genai.Client
	model  string
	log    *logging.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig, log *logging.Logger) (*Gemini, error) {
	if log == nil {
		log = logging.Discard()
	}
	cc := &genai.ClientConfig{}
	if cfg.Timeout > 0 {
		timeout := cfg.Timeout
		cc.HTTPOptions.Timeout = &timeout
	}
	switch cfg.Backend {
	case "vertex":
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	default:
		if cfg.APIKey == "" {
			return nil, errors.New("gemini: API key is required")
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	g := &Gemini{client: client, model: cfg.Model, log: log}
	if g.model == "" || g.model == "auto" {
		g.model = g.discoverModel(ctx)
	}
	log.Info("extraction backend ready", "backend", cfg.Backend, "model", g.model)
	return g, nil
}

// discoverModel prefers a flash model that supports content generation.
func (g *Gemini) discoverModel(ctx context.Context) string {
	var first string
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			g.log.Warn("listing models failed", "error", err)
			break
		}
		if !supportsGenerate(m) {
			continue
		}
		name := strings.TrimPrefix(m.Name, "models/")
		if strings.Contains(name, "flash") {
			return name
		}
		if first == "" {
			first = name
		}
	}
	if first != "" {
		return first
	}
	return FallbackModel
}

func supportsGenerate(m *genai.Model) bool {
	for _, a := range m.SupportedActions {
		if a == "generateContent" {
			return true
		}
	}
	return false
}

func (g *Gemini) Extract(ctx context.Context, req Request) ([]byte, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(Prompt(req.Role)),
		genai.NewPartFromBytes(req.Data, req.MediaType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
			return nil, fail(KindModelError, "model rejected request", err)
		}
		return nil, fail(KindTransport, "transport error", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fail(KindMalformed, "empty response", nil)
	}
	return []byte(text), nil
}

// Prompt builds the per-document instruction for a counterparty role.
func Prompt(role model.Role) string {
	party := "vendor"
	who := "the business that issued the document"
	if role == model.RoleClient {
		party = "client"
		who = "the customer the document is billed to"
	}
	return fmt.Sprintf(`Extract these fields as JSON:
{
  "date": "YYYY-MM-DD",
  "document_number": "invoice or receipt number",
  "%s": "%s",
  "subtotal": number before tax,
  "tax": tax or VAT amount, 0 if none,
  "total": number including tax,
  "currency": "three letter currency code"
}
Amounts are plain numbers without currency symbols or thousands separators.`, party, who)
}
