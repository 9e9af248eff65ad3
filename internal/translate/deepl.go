package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type deeplTranslator struct {
	endpoint string
	authKey  string
	client   *http.Client
}

type deeplResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
	Message string `json:"message,omitempty"`
}

func NewDeepLTranslator(endpoint, authKey string, client *http.Client) Translator {
	if client == nil {
		client = http.DefaultClient
	}
	return &deeplTranslator{endpoint: endpoint, authKey: strings.TrimSpace(authKey), client: client}
}

func (t *deeplTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if t.authKey == "" {
		return Result{}, fmt.Errorf("deepl: %w", ErrMissingCredential)
	}
	form := url.Values{}
	form.Set("text", req.Text)
	form.Set("target_lang", deeplTarget(req.Target))
	if src := baseLanguage(req.Source); src != "" {
		form.Set("source_lang", strings.ToUpper(src))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Authorization", "DeepL-Auth-Key "+t.authKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("deepl request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("deepl read response: %w", err)
	}
	var decoded deeplResponse
	decodeErr := json.Unmarshal(body, &decoded)
	if resp.StatusCode >= 300 {
		if decodeErr == nil && decoded.Message != "" {
			return Result{}, fmt.Errorf("deepl returned status %s: %s", resp.Status, decoded.Message)
		}
		return Result{}, fmt.Errorf("deepl returned status %s", resp.Status)
	}
	if decodeErr != nil {
		return Result{}, fmt.Errorf("deepl decode response: %w", decodeErr)
	}
	if len(decoded.Translations) == 0 || strings.TrimSpace(decoded.Translations[0].Text) == "" {
		return Result{}, fmt.Errorf("deepl returned no translation")
	}
	return Result{Text: decoded.Translations[0].Text, Provider: "deepl"}, nil
}

// deeplTarget maps a BCP-47 tag onto DeepL's target_lang codes, which require
// a regional variant for English and Portuguese.
func deeplTarget(tag string) string {
	upper := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
	switch baseLanguage(tag) {
	case "en":
		if upper == "EN-GB" {
			return "EN-GB"
		}
		return "EN-US"
	case "pt":
		if upper == "PT-PT" {
			return "PT-PT"
		}
		return "PT-BR"
	case "zh":
		if strings.Contains(upper, "HANT") || upper == "ZH-TW" || upper == "ZH-HK" {
			return "ZH-HANT"
		}
		return "ZH-HANS"
	}
	return strings.ToUpper(baseLanguage(tag))
}
