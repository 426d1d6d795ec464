package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fakeKeys struct {
	keys map[string]APIKey
}

func (f *fakeKeys) GetByHash(_ context.Context, keyHash string) (APIKey, error) {
	key, ok := f.keys[keyHash]
	if !ok {
		return APIKey{}, ErrAPIKeyNotFound
	}
	return key, nil
}

func newTestRouter(keys KeyLookup, seen *uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/hook", APIKeyAuthMiddleware(keys), func(c *gin.Context) {
		if id, ok := TenantFromContext(c); ok {
			*seen = id
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	tenant := uuid.New()
	keys := &fakeKeys{keys: map[string]APIKey{
		HashKey("whk_valid"): {ID: uuid.New(), TenantID: tenant, Source: "switch", IsActive: true},
	}}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"unknown key", "whk_nope", http.StatusUnauthorized},
		{"valid key", "whk_valid", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen uuid.UUID
			r := newTestRouter(keys, &seen)
			req := httptest.NewRequest(http.MethodPost, "/hook", nil)
			if tc.header != "" {
				req.Header.Set(HeaderAPIKey, tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if tc.status == http.StatusOK && seen != tenant {
				t.Fatalf("expected tenant %s on context, got %s", tenant, seen)
			}
		})
	}
}

func TestGenerateAPIKeyHashesPlaintext(t *testing.T) {
	plaintext, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if HashKey(plaintext) != hash {
		t.Fatalf("hash does not match plaintext")
	}
	if prefix != plaintext[:12] {
		t.Fatalf("unexpected prefix %q", prefix)
	}
}
