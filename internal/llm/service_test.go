package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RichardoC/legisla/internal/metrics"
	"github.com/RichardoC/legisla/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider is an OpenAI-compatible chat completion server.
type fakeProvider struct {
	server *httptest.Server
	calls  atomic.Int32
	// last system prompt received
	system atomic.Value
}

func newFakeProvider(t *testing.T, status int, answer string) *fakeProvider {
	t.Helper()
	f := &fakeProvider{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, m := range req.Messages {
			if m.Role == "system" {
				f.system.Store(m.Content)
			}
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": answer},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeProvider) lastSystem() string {
	s, _ := f.system.Load().(string)
	return s
}

func newTestService(t *testing.T, general *fakeProvider, laws *LawsClient, m *metrics.Metrics) *Service {
	t.Helper()
	svc, err := New(general.server.URL, "test", "gpt-4o", laws, zap.NewNop(), m)
	require.NoError(t, err)
	return svc
}

func lawsServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer laws-key", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRoute_Internet(t *testing.T) {
	general := newFakeProvider(t, http.StatusOK, "  O IPTU é um imposto municipal.  ")
	svc := newTestService(t, general, nil, nil)

	answer, err := svc.Route(context.Background(), "O que é IPTU?", models.QueryInternet)
	require.NoError(t, err)
	assert.Equal(t, "O IPTU é um imposto municipal.", answer)
	assert.Equal(t, legislativePrompt, general.lastSystem())
}

func TestRoute_InternetProviderError(t *testing.T) {
	general := newFakeProvider(t, http.StatusInternalServerError, "")
	svc := newTestService(t, general, nil, nil)

	_, err := svc.Route(context.Background(), "O que é IPTU?", models.QueryInternet)
	assert.ErrorIs(t, err, ErrGeneralProvider)
}

func TestRoute_LawsShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"openai", `{"choices":[{"message":{"role":"assistant","content":"Lei 123/2020"}}]}`, "Lei 123/2020"},
		{"response", `{"response":"Lei 456/2021"}`, "Lei 456/2021"},
		{"message", `{"message":"Lei 789/2022"}`, "Lei 789/2022"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			general := newFakeProvider(t, http.StatusOK, "unused")
			laws := NewLawsClient(lawsServer(t, http.StatusOK, tc.body).URL, "laws-key", "", time.Second)
			svc := newTestService(t, general, laws, nil)

			answer, err := svc.Route(context.Background(), "leis sobre IPTU", models.QueryLaws)
			require.NoError(t, err)
			assert.Equal(t, tc.want, answer)
			assert.Zero(t, general.calls.Load())
		})
	}
}

func TestRoute_LawsFallsBackToGeneral(t *testing.T) {
	m := metrics.New()
	general := newFakeProvider(t, http.StatusOK, "Resposta de reserva")
	laws := NewLawsClient(lawsServer(t, http.StatusBadGateway, "bad gateway").URL, "laws-key", "", time.Second)
	svc := newTestService(t, general, laws, m)

	answer, err := svc.Route(context.Background(), "leis sobre IPTU", models.QueryLaws)
	require.NoError(t, err)
	assert.Equal(t, "Resposta de reserva", answer)
	assert.Equal(t, strictLawsPrompt, general.lastSystem())
	assert.EqualValues(t, 1, general.calls.Load())
}

func TestRoute_LawsUnrecognisedBodyFallsBack(t *testing.T) {
	general := newFakeProvider(t, http.StatusOK, "Resposta de reserva")
	laws := NewLawsClient(lawsServer(t, http.StatusOK, `{"unexpected":true}`).URL, "laws-key", "", time.Second)
	svc := newTestService(t, general, laws, nil)

	answer, err := svc.Route(context.Background(), "leis", models.QueryLaws)
	require.NoError(t, err)
	assert.Equal(t, "Resposta de reserva", answer)
}

func TestRoute_LawsBothFail(t *testing.T) {
	general := newFakeProvider(t, http.StatusInternalServerError, "")
	laws := NewLawsClient(lawsServer(t, http.StatusInternalServerError, "").URL, "laws-key", "", time.Second)
	svc := newTestService(t, general, laws, nil)

	_, err := svc.Route(context.Background(), "leis", models.QueryLaws)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLawsUnavailable)
	assert.NotErrorIs(t, err, ErrGeneralProvider)
}

func TestRoute_UnknownQueryType(t *testing.T) {
	general := newFakeProvider(t, http.StatusOK, "x")
	svc := newTestService(t, general, nil, nil)

	_, err := svc.Route(context.Background(), "q", models.QueryType("radio"))
	assert.Error(t, err)
	assert.Zero(t, general.calls.Load())
}

func TestGenerateTitle(t *testing.T) {
	t.Run("blank input skips the provider", func(t *testing.T) {
		general := newFakeProvider(t, http.StatusOK, "never")
		svc := newTestService(t, general, nil, nil)

		assert.Equal(t, DefaultTitle, svc.GenerateTitle(context.Background(), "   "))
		assert.Zero(t, general.calls.Load())
	})

	t.Run("quotes and whitespace trimmed", func(t *testing.T) {
		general := newFakeProvider(t, http.StatusOK, "  \"Cobrança do IPTU\"\n")
		svc := newTestService(t, general, nil, nil)

		assert.Equal(t, "Cobrança do IPTU", svc.GenerateTitle(context.Background(), "Como funciona o IPTU?"))
		assert.Equal(t, titlePrompt, general.lastSystem())
	})

	t.Run("truncated to the maximum length", func(t *testing.T) {
		long := strings.Repeat("á", 60)
		general := newFakeProvider(t, http.StatusOK, long)
		svc := newTestService(t, general, nil, nil)

		title := svc.GenerateTitle(context.Background(), "pergunta")
		assert.Equal(t, MaxTitleLength, len([]rune(title)))
	})

	t.Run("provider error yields default", func(t *testing.T) {
		general := newFakeProvider(t, http.StatusInternalServerError, "")
		svc := newTestService(t, general, nil, nil)

		assert.Equal(t, DefaultTitle, svc.GenerateTitle(context.Background(), "pergunta"))
	})

	t.Run("blank answer yields default", func(t *testing.T) {
		general := newFakeProvider(t, http.StatusOK, "  ")
		svc := newTestService(t, general, nil, nil)

		assert.Equal(t, DefaultTitle, svc.GenerateTitle(context.Background(), "pergunta"))
	})
}
