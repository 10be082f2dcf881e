package focus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func clienteDeTeste(srv *httptest.Server) *Client {
	return &Client{
		token:   "tok-teste",
		baseURL: srv.URL,
		http:    srv.Client(),
	}
}

func TestEnviarNFSe(t *testing.T) {
	t.Run("aceite devolve pendente", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("método = %s, esperava POST", r.Method)
			}
			if r.URL.Query().Get("ref") != "os42-1" {
				t.Errorf("ref = %q", r.URL.Query().Get("ref"))
			}
			user, _, ok := r.BasicAuth()
			if !ok || user != "tok-teste" {
				t.Errorf("basic auth errado: %q", user)
			}
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"status":"processando_autorizacao"}`))
		}))
		defer srv.Close()

		res, err := clienteDeTeste(srv).EnviarNFSe(context.Background(), "os42-1", map[string]string{"x": "y"})
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if res.Situacao != SituacaoPendente {
			t.Errorf("situação = %q, esperava pendente", res.Situacao)
		}
	})

	t.Run("erro no corpo vence status 2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"erros":[{"Codigo":"E123","Descricao":"bad code"}]}`))
		}))
		defer srv.Close()

		res, err := clienteDeTeste(srv).EnviarNFSe(context.Background(), "os42-1", nil)
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if res.Situacao != SituacaoRejeitada {
			t.Fatalf("situação = %q, esperava rejeitada", res.Situacao)
		}
		if res.ErroCodigo != "E123" || !strings.Contains(res.ErroMensagem, "bad code") {
			t.Errorf("erro = [%s] %s", res.ErroCodigo, res.ErroMensagem)
		}
	})

	t.Run("status de falha sem formato conhecido sintetiza", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized"))
		}))
		defer srv.Close()

		res, err := clienteDeTeste(srv).EnviarNFSe(context.Background(), "os42-1", nil)
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if res.Situacao != SituacaoRejeitada || res.ErroCodigo != "http_401" {
			t.Errorf("situação=%q codigo=%q", res.Situacao, res.ErroCodigo)
		}
	})

	t.Run("falha de rede vira ErroTransporte", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // servidor já fechado: connection refused

		c := &Client{token: "tok", baseURL: srv.URL, http: &http.Client{Timeout: time.Second}}
		_, err := c.EnviarNFSe(context.Background(), "os42-1", nil)

		var et *ErroTransporte
		if !errors.As(err, &et) {
			t.Fatalf("esperava *ErroTransporte, veio %T: %v", err, err)
		}
	})
}

func TestConsultarNFSe(t *testing.T) {
	t.Run("404 ainda em processamento", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		res, err := clienteDeTeste(srv).ConsultarNFSe(context.Background(), "os42-1")
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if res.Situacao != SituacaoProcessando {
			t.Errorf("situação = %q, esperava processando", res.Situacao)
		}
	})

	t.Run("falha http vira ErroGateway", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"erro":"token inválido"}`))
		}))
		defer srv.Close()

		_, err := clienteDeTeste(srv).ConsultarNFSe(context.Background(), "os42-1")
		var eg *ErroGateway
		if !errors.As(err, &eg) {
			t.Fatalf("esperava *ErroGateway, veio %T: %v", err, err)
		}
		if eg.HTTPStatus != http.StatusUnauthorized {
			t.Errorf("http status = %d", eg.HTTPStatus)
		}
	})
}

func TestClassificarConsulta(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Situacao
	}{
		{name: "autorizado", body: `{"status":"autorizado","numero":"555"}`, want: SituacaoAutorizada},
		{name: "erro_autorizacao", body: `{"status":"erro_autorizacao","mensagem_sefaz":"serviço não permitido","codigo_erro":"L003"}`, want: SituacaoRejeitada},
		{name: "processando", body: `{"status":"processando_autorizacao"}`, want: SituacaoProcessando},
		{name: "status desconhecido segue processando", body: `{"status":"em_analise_manual"}`, want: SituacaoProcessando},
		{name: "corpo vazio segue processando", body: `{}`, want: SituacaoProcessando},
		{name: "lista de erros sem status rejeita", body: `{"erros":[{"codigo":"E1","descricao":"x"}]}`, want: SituacaoRejeitada},
		{name: "mensagem informativa sem status segue processando", body: `{"mensagem":"nota em processamento na fila"}`, want: SituacaoProcessando},
		{name: "erro string sem status segue processando", body: `{"erro":"aguarde"}`, want: SituacaoProcessando},
		{name: "message em ingles sem status segue processando", body: `{"message":"queued"}`, want: SituacaoProcessando},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassificarConsulta([]byte(tt.body))
			if got.Situacao != tt.want {
				t.Errorf("situação = %q, esperava %q", got.Situacao, tt.want)
			}
		})
	}

	t.Run("autorizado carrega os campos da nota", func(t *testing.T) {
		body := `{
			"status":"autorizado",
			"numero":"555",
			"chave_nfse":"CHV123",
			"codigo_verificacao":"ABC9",
			"url_danfse":"https://focusnfe/danfse.pdf",
			"caminho_xml_nota_fiscal":"/notas/555.xml"
		}`
		got := ClassificarConsulta([]byte(body))
		if got.Numero != "555" || got.Chave != "CHV123" || got.CodigoVerificacao != "ABC9" {
			t.Errorf("campos da nota: %+v", got)
		}
		if got.URLPdf != "https://focusnfe/danfse.pdf" || got.URLXml != "/notas/555.xml" {
			t.Errorf("urls: pdf=%q xml=%q", got.URLPdf, got.URLXml)
		}
	})

	t.Run("url e fallback quando nao ha url_danfse", func(t *testing.T) {
		got := ClassificarConsulta([]byte(`{"status":"autorizado","url":"https://focusnfe/nota"}`))
		if got.URLPdf != "https://focusnfe/nota" {
			t.Errorf("url pdf = %q", got.URLPdf)
		}
	})
}

func TestBaixarArquivo(t *testing.T) {
	t.Run("pdf volta com content-type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, "/nfse/os42-1.pdf") {
				t.Errorf("path = %q", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.4 conteudo"))
		}))
		defer srv.Close()

		dados, ct, err := clienteDeTeste(srv).BaixarArquivo(context.Background(), "os42-1", "pdf")
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if ct != "application/pdf" || !strings.HasPrefix(string(dados), "%PDF") {
			t.Errorf("ct=%q dados=%q", ct, dados)
		}
	})

	t.Run("json no lugar do arquivo vira ErroGateway", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"erro":"nota não encontrada"}`))
		}))
		defer srv.Close()

		_, _, err := clienteDeTeste(srv).BaixarArquivo(context.Background(), "os42-1", "pdf")
		var eg *ErroGateway
		if !errors.As(err, &eg) {
			t.Fatalf("esperava *ErroGateway, veio %T: %v", err, err)
		}
	})

	t.Run("tipo invalido falha antes da rede", func(t *testing.T) {
		c := &Client{token: "tok", baseURL: "http://invalido", http: http.DefaultClient}
		if _, _, err := c.BaixarArquivo(context.Background(), "os42-1", "docx"); err == nil {
			t.Fatal("esperava erro de tipo inválido")
		}
	})
}
