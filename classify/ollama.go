package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaAssist asks a local Ollama model to label documents the heuristics
// gave up on. It is optional: no server configured means no assist.
type OllamaAssist struct {
	BaseURL string
	Model   string
	Client  *http.Client
	// MaxChars bounds how much document text goes into the prompt.
	MaxChars int
}

// NewOllamaAssist builds an assist client with sane defaults.
func NewOllamaAssist(baseURL, model string) *OllamaAssist {
	return &OllamaAssist{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Model:    model,
		Client:   &http.Client{Timeout: 60 * time.Second},
		MaxChars: 2000,
	}
}

const assistPrompt = `You label scanned business documents. From the document text below,
answer with exactly one line in the format COMPANY|DESCRIPTION where COMPANY
is the issuing organization (one short word or acronym) and DESCRIPTION is a
few words naming the document type. No other output.

Document text:
%s`

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Suggest implements Assist over the Ollama generate API.
func (a *OllamaAssist) Suggest(ctx context.Context, text string) (string, string, error) {
	if a.MaxChars > 0 && len(text) > a.MaxChars {
		text = text[:a.MaxChars]
	}
	body, err := json.Marshal(generateRequest{
		Model:  a.Model,
		Prompt: fmt.Sprintf(assistPrompt, text),
		Stream: false,
	})
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("ollama: status %d", resp.StatusCode)
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}
	return parseSuggestion(out.Response)
}

// parseSuggestion extracts the COMPANY|DESCRIPTION line from model output.
func parseSuggestion(response string) (string, string, error) {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 2)
		if len(parts) != 2 {
			continue
		}
		company := strings.TrimSpace(parts[0])
		description := strings.TrimSpace(parts[1])
		if company == "" {
			continue
		}
		return company, description, nil
	}
	return "", "", fmt.Errorf("no suggestion in model output %q", response)
}
