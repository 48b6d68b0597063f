package ai

import (
	"encoding/json"
	"fmt"
	"net/http"

	"toolhub/internal/db"
	"toolhub/internal/provider"
	"toolhub/internal/provider/anthropic"
	"toolhub/internal/provider/gemini"
	"toolhub/internal/provider/openai"
	"toolhub/internal/security"
)

// BuildProvider constructs a vendor client from a stored provider row.
// The API key is decrypted here, immediately before construction, and lives
// only inside the returned instance; nothing is cached at package scope.
func BuildProvider(row db.AIProvider, cipher *security.Cipher, client *http.Client) (provider.Provider, error) {
	apiKey := ""
	if row.APIKeyEncrypted != "" {
		decrypted, err := cipher.Decrypt(row.APIKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("ai: decrypt credentials for provider %q: %w", row.Name, err)
		}
		apiKey = decrypted
	}

	switch row.Type {
	case db.ProviderTypeOpenAI:
		return openai.New(row.BaseURL, apiKey, client), nil
	case db.ProviderTypeAnthropic:
		return anthropic.New(row.BaseURL, apiKey, client), nil
	case db.ProviderTypeGemini:
		return gemini.New(row.BaseURL, apiKey, client), nil
	case db.ProviderTypeCustom:
		headers, err := decodeHeaders(row.ExtraHeaders)
		if err != nil {
			return nil, fmt.Errorf("ai: provider %q extra headers: %w", row.Name, err)
		}
		return openai.NewCompatible(row.Name, row.BaseURL, apiKey, headers, client), nil
	default:
		return nil, fmt.Errorf("ai: unsupported provider type: %s", row.Type)
	}
}

func decodeHeaders(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := map[string]string{}
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, err
	}
	return headers, nil
}
