package translate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDeepLTranslator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "DeepL-Auth-Key secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("text") != "Hello" || r.PostForm.Get("target_lang") != "JA" || r.PostForm.Get("source_lang") != "EN" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"translations":[{"detected_source_language":"EN","text":"こんにちは"}]}`)
	}))
	defer srv.Close()

	tr := NewDeepLTranslator(srv.URL, "secret", srv.Client())
	res, err := tr.Translate(context.Background(), Request{Text: "Hello", Source: "en-US", Target: "ja-JP"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Text != "こんにちは" || res.Provider != "deepl" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDeepLMissingKey(t *testing.T) {
	tr := NewDeepLTranslator("http://127.0.0.1:1", "", nil)
	_, err := tr.Translate(context.Background(), Request{Text: "Hello", Source: "en", Target: "ja"})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestDeepLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"message":"Wrong endpoint"}`)
	}))
	defer srv.Close()

	tr := NewDeepLTranslator(srv.URL, "secret", srv.Client())
	_, err := tr.Translate(context.Background(), Request{Text: "Hello", Source: "en", Target: "ja"})
	if err == nil || !strings.Contains(err.Error(), "Wrong endpoint") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestDeepLMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"translations":[{"text":`)
	}))
	defer srv.Close()

	tr := NewDeepLTranslator(srv.URL, "secret", srv.Client())
	_, err := tr.Translate(context.Background(), Request{Text: "Hello", Source: "en", Target: "ja"})
	if err == nil || !strings.Contains(err.Error(), "decode response") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestDeepLTargetCodes(t *testing.T) {
	cases := map[string]string{
		"en-US": "EN-US",
		"en":    "EN-US",
		"en-GB": "EN-GB",
		"pt-PT": "PT-PT",
		"pt-BR": "PT-BR",
		"ja-JP": "JA",
		"zh-TW": "ZH-HANT",
		"zh-CN": "ZH-HANS",
		"de_DE": "DE",
	}
	for tag, want := range cases {
		if got := deeplTarget(tag); got != want {
			t.Fatalf("deeplTarget(%q) = %q, want %q", tag, got, want)
		}
	}
}

func TestMyMemoryTranslator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "Good morning" || q.Get("langpair") != "en-US|ja-JP" || q.Get("de") != "me@example.com" {
			t.Errorf("unexpected query %v", q)
		}
		_, _ = io.WriteString(w, `{"responseData":{"translatedText":"おはよう &amp; ようこそ"},"responseStatus":200}`)
	}))
	defer srv.Close()

	tr := NewMyMemoryTranslator(srv.URL, "me@example.com", srv.Client())
	res, err := tr.Translate(context.Background(), Request{Text: "Good morning", Source: "en-US", Target: "ja-JP"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Text != "おはよう & ようこそ" || res.Provider != "mymemory" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestMyMemoryQuotedErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"responseData":{"translatedText":"QUOTA EXCEEDED"},"responseStatus":"429","responseDetails":"quota"}`)
	}))
	defer srv.Close()

	tr := NewMyMemoryTranslator(srv.URL, "", srv.Client())
	if _, err := tr.Translate(context.Background(), Request{Text: "Hi", Source: "en", Target: "ja"}); err == nil {
		t.Fatal("expected quota error")
	}
}

func TestChainFallsThrough(t *testing.T) {
	var calls atomic.Int32
	failing := TranslatorFunc(func(ctx context.Context, req Request) (Result, error) {
		calls.Add(1)
		return Result{}, errors.New("boom")
	})
	missing := TranslatorFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{}, ErrMissingCredential
	})
	chain := NewChain([]Provider{
		{Name: "deepl", Translator: missing},
		{Name: "flaky", Translator: failing},
		{Name: "mock", Translator: NewMockTranslator(0)},
	}, 0, newLogger())

	res, err := chain.Translate(context.Background(), Request{Text: " Hello ", Source: "en-US", Target: "ja-JP"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Text != "[ja-JP] Hello" || res.Provider != "mock" {
		t.Fatalf("unexpected result %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected failing provider to be tried once, got %d", calls.Load())
	}
}

func TestChainAllFail(t *testing.T) {
	chain := NewChain([]Provider{
		{Name: "a", Translator: TranslatorFunc(func(context.Context, Request) (Result, error) { return Result{}, errors.New("down") })},
	}, 0, newLogger())
	_, err := chain.Translate(context.Background(), Request{Text: "Hello", Source: "en", Target: "ja"})
	if err == nil || !strings.Contains(err.Error(), "a: down") {
		t.Fatalf("expected joined provider error, got %v", err)
	}

	onlyMissing := NewChain([]Provider{{Name: "deepl", Translator: NewDeepLTranslator("", "", nil)}}, 0, newLogger())
	if _, err := onlyMissing.Translate(context.Background(), Request{Text: "Hello", Source: "en", Target: "ja"}); err == nil {
		t.Fatal("expected an error when no provider is usable")
	}
}

func TestChainSameLanguageIsIdentity(t *testing.T) {
	chain := NewChain(nil, 0, newLogger())
	res, err := chain.Translate(context.Background(), Request{Text: "Hello", Source: "en-US", Target: "en-GB"})
	if err != nil || res.Text != "Hello" {
		t.Fatalf("unexpected identity result %+v err=%v", res, err)
	}
}

func TestCacheMemoizesSuccessOnly(t *testing.T) {
	var calls atomic.Int32
	fail := true
	next := TranslatorFunc(func(ctx context.Context, req Request) (Result, error) {
		calls.Add(1)
		if fail {
			return Result{}, errors.New("transient")
		}
		return Result{Text: "hola", Provider: "mock"}, nil
	})
	cache, err := NewCache(next, 8)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	req := Request{Text: "hello", Source: "en-US", Target: "es-ES"}

	if _, err := cache.Translate(context.Background(), req); err == nil {
		t.Fatal("expected error")
	}
	fail = false
	for i := 0; i < 3; i++ {
		res, err := cache.Translate(context.Background(), req)
		if err != nil || res.Text != "hola" {
			t.Fatalf("unexpected result %+v err=%v", res, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls.Load())
	}
	if cache.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", cache.Len())
	}

	cache.Purge()
	if _, err := cache.Translate(context.Background(), req); err != nil || calls.Load() != 3 {
		t.Fatalf("purged entry should be fetched again, calls=%d err=%v", calls.Load(), err)
	}
}

func TestExecTranslator(t *testing.T) {
	script := filepath.Join(t.TempDir(), "translate.sh")
	body := "#!/bin/sh\ncat > /dev/null\nprintf '{\"text\":\"bonjour\"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	tr, err := NewExecTranslator(script)
	if err != nil {
		t.Fatalf("NewExecTranslator: %v", err)
	}
	res, err := tr.Translate(context.Background(), Request{Text: "hello", Source: "en", Target: "fr"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if res.Text != "bonjour" || res.Provider != "exec" {
		t.Fatalf("unexpected result %+v", res)
	}
}
