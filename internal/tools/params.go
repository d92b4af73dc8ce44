package tools

import (
	"errors"
	"strings"
)

const (
	maxQueryLen = 2000
	maxURLLen   = 2048
	maxModelLen = 100

	defaultMinResults = 3
	defaultMaxResults = 10
)

type WebSearchParams struct {
	Query      string `json:"query"`
	Platform   string `json:"platform"`
	MinResults int    `json:"min_results"`
	MaxResults int    `json:"max_results"`
}

func (p *WebSearchParams) Validate() error {
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return errors.New("query cannot be empty")
	}
	if len(query) > maxQueryLen {
		return errors.New("query exceeds 2000 characters")
	}
	if p.MinResults < 1 || p.MinResults > 50 {
		return errors.New("min_results must be between 1 and 50")
	}
	if p.MaxResults < 1 || p.MaxResults > 100 {
		return errors.New("max_results must be between 1 and 100")
	}
	if p.MinResults > p.MaxResults {
		return errors.New("min_results cannot be greater than max_results")
	}
	return nil
}

type WebFetchParams struct {
	URL string `json:"url"`
}

func (p *WebFetchParams) Validate() error {
	url := strings.TrimSpace(p.URL)
	if url == "" {
		return errors.New("url cannot be empty")
	}
	if len(url) > maxURLLen {
		return errors.New("url exceeds 2048 characters")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return errors.New("url must use http or https scheme")
	}
	return nil
}

type SwitchModelParams struct {
	Model string `json:"model"`
}

func (p *SwitchModelParams) Validate() error {
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return errors.New("model name cannot be empty")
	}
	if len(model) > maxModelLen {
		return errors.New("model name exceeds 100 characters")
	}
	return nil
}

type ToggleBuiltinToolsParams struct {
	Action string `json:"action"`
}

func (p *ToggleBuiltinToolsParams) Validate() error {
	switch p.normalizedAction() {
	case "on", "off", "status":
		return nil
	default:
		return errors.New("action must be 'on', 'off', or 'status'")
	}
}

func (p *ToggleBuiltinToolsParams) normalizedAction() string {
	return strings.ToLower(strings.TrimSpace(p.Action))
}

// GetConfigInfoParams takes no arguments.
type GetConfigInfoParams struct{}

func (p *GetConfigInfoParams) Validate() error { return nil }
