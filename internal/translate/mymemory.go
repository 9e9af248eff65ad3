package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

type myMemoryTranslator struct {
	endpoint string
	email    string
	client   *http.Client
}

type myMemoryResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	ResponseStatus  json.RawMessage `json:"responseStatus"`
	ResponseDetails string          `json:"responseDetails"`
}

// NewMyMemoryTranslator uses the keyless MyMemory API. email raises the
// anonymous daily quota when set.
func NewMyMemoryTranslator(endpoint, email string, client *http.Client) Translator {
	if client == nil {
		client = http.DefaultClient
	}
	return &myMemoryTranslator{endpoint: endpoint, email: email, client: client}
}

func (t *myMemoryTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("mymemory endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", req.Text)
	q.Set("langpair", req.Source+"|"+req.Target)
	if t.email != "" {
		q.Set("de", t.email)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("mymemory request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("mymemory returned status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("mymemory read response: %w", err)
	}
	var decoded myMemoryResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode mymemory response: %w", err)
	}
	if status := responseStatus(decoded.ResponseStatus); status != 0 && status != http.StatusOK {
		return Result{}, fmt.Errorf("mymemory status %d: %s", status, decoded.ResponseDetails)
	}
	text := strings.TrimSpace(html.UnescapeString(decoded.ResponseData.TranslatedText))
	if text == "" {
		return Result{}, fmt.Errorf("mymemory returned no translation")
	}
	return Result{Text: text, Provider: "mymemory"}, nil
}

// responseStatus accepts both the numeric and the quoted form the API uses.
func responseStatus(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
