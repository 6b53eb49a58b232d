// Пакет contract — OpenAPI-контракт Access Module.
// Спецификация встроена в бинарь, валидируется при старте
// и отдаётся на /openapi.json.
package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	_ "embed"
)

//go:embed openapi.yaml
var specYAML []byte

// Load загружает и валидирует встроенную OpenAPI-спецификацию.
// Невалидная спецификация — ошибка старта, не ошибка запроса.
func Load(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("загрузка OpenAPI-спецификации: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI-спецификации: %w", err)
	}
	return doc, nil
}

// Handler возвращает HTTP handler, отдающий спецификацию в JSON.
func Handler(doc *openapi3.T) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}
