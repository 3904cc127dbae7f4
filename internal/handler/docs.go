package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	"broker-proxy-go/internal/config"
)

const yamlContentType = "application/yaml; charset=UTF-8"

// DocsHandler serves the OpenAPI description of the broker endpoint.
type DocsHandler struct {
	doc []byte
}

type openAPIDoc struct {
	OpenAPI string                          `yaml:"openapi"`
	Info    openAPIInfo                     `yaml:"info"`
	Paths   map[string]map[string]operation `yaml:"paths"`
}

type openAPIInfo struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

type operation struct {
	Summary     string              `yaml:"summary"`
	OperationID string              `yaml:"operationId"`
	Parameters  []parameter         `yaml:"parameters,omitempty"`
	RequestBody *requestBody        `yaml:"requestBody,omitempty"`
	Responses   map[string]response `yaml:"responses"`
}

type parameter struct {
	Name        string `yaml:"name"`
	In          string `yaml:"in"`
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
	Schema      schema `yaml:"schema"`
}

type requestBody struct {
	Description string               `yaml:"description"`
	Content     map[string]mediaType `yaml:"content"`
}

type response struct {
	Description string               `yaml:"description"`
	Content     map[string]mediaType `yaml:"content,omitempty"`
}

type mediaType struct {
	Schema schema `yaml:"schema"`
}

type schema struct {
	Type   string `yaml:"type"`
	Format string `yaml:"format,omitempty"`
}

// NewDocsHandler renders the OpenAPI document for the configured broker settings.
func NewDocsHandler(cfg *config.Config, v Version) (*DocsHandler, error) {
	doc, err := yaml.Marshal(buildOpenAPI(cfg, string(v)))
	if err != nil {
		return nil, fmt.Errorf("render openapi document: %w", err)
	}
	return &DocsHandler{doc: doc}, nil
}

// OpenAPI returns the rendered document.
func (h *DocsHandler) OpenAPI(c echo.Context) error {
	return c.Blob(http.StatusOK, yamlContentType, h.doc)
}

func buildOpenAPI(cfg *config.Config, version string) openAPIDoc {
	xmlBody := map[string]mediaType{"application/xml": {Schema: schema{Type: "string"}}}
	target := parameter{
		Name:        cfg.Broker.TargetHeader,
		In:          "header",
		Required:    true,
		Description: "Absolute URL of the downstream JSON service.",
		Schema:      schema{Type: "string", Format: "uri"},
	}
	responses := map[string]response{
		"200": {Description: "Downstream JSON response converted to XML.", Content: xmlBody},
		"400": {Description: "Missing or invalid target, or malformed XML body.", Content: xmlBody},
		"404": {Description: "Downstream returned no content."},
		"502": {Description: "Downstream unreachable or returned unconvertible JSON.", Content: xmlBody},
		"504": {Description: "Downstream timed out.", Content: xmlBody},
	}

	return openAPIDoc{
		OpenAPI: "3.0.3",
		Info: openAPIInfo{
			Title:       "broker-proxy",
			Description: "Forwards XML requests to JSON services and converts the replies back to XML.",
			Version:     version,
		},
		Paths: map[string]map[string]operation{
			"/Broker": {
				"get": {
					Summary:     "Forward a GET to the target service",
					OperationID: "brokerGet",
					Parameters:  []parameter{target},
					Responses:   responses,
				},
				"post": {
					Summary:     "Convert the XML body to JSON and POST it to the target service",
					OperationID: "brokerPost",
					Parameters:  []parameter{target},
					RequestBody: &requestBody{
						Description: fmt.Sprintf("XML fragment; wrapped in <%s> before conversion.", cfg.Broker.RootElement),
						Content:     xmlBody,
					},
					Responses: responses,
				},
			},
		},
	}
}
