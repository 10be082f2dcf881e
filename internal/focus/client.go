package focus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	xsdvalidate "github.com/form3tech-oss/go-xsd-validate"
)

// ============================================================================
// Cliente do gateway fiscal (Focus NFe)
//
// O cliente só fala HTTP e normaliza respostas. Validade de negócio
// (pré-condições de emissão, máquina de estados) mora em fiscal/ e nfse/.
// ============================================================================

const (
	baseSandbox  = "https://homologacao.focusnfe.com.br/v2"
	baseProducao = "https://api.focusnfe.com.br/v2"
)

// Situacao é o desfecho normalizado de uma chamada ao gateway.
type Situacao string

const (
	// SituacaoPendente: gateway aceitou o envio; a autorização é assíncrona.
	SituacaoPendente Situacao = "pendente"
	// SituacaoProcessando: consulta ainda sem desfecho da prefeitura.
	SituacaoProcessando Situacao = "processando"
	SituacaoAutorizada  Situacao = "autorizada"
	SituacaoRejeitada   Situacao = "rejeitada"
)

// Resultado é o desfecho normalizado de um envio ou consulta.
type Resultado struct {
	Situacao Situacao

	// Preenchidos quando autorizada
	Numero            string
	Chave             string
	CodigoVerificacao string
	URLPdf            string
	URLXml            string

	// Preenchidos quando rejeitada
	ErroCodigo   string
	ErroMensagem string
}

// ErroTransporte é falha de rede/timeout: pode ser re-tentada e nunca deve
// ser confundida com erro de negócio reportado pelo gateway.
type ErroTransporte struct {
	Op  string
	Err error
}

func (e *ErroTransporte) Error() string {
	return fmt.Sprintf("falha de comunicação com o gateway (%s): %v", e.Op, e.Err)
}

func (e *ErroTransporte) Unwrap() error { return e.Err }

// ErroGateway é um erro reportado pelo próprio gateway fora do fluxo
// normal de envio/consulta (download de arquivo, consulta com HTTP de falha).
type ErroGateway struct {
	HTTPStatus int
	Codigo     string
	Mensagem   string
}

func (e *ErroGateway) Error() string {
	if e.Codigo != "" {
		return fmt.Sprintf("[%s] %s", e.Codigo, e.Mensagem)
	}
	return e.Mensagem
}

type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient monta um cliente para o ambiente configurado ("production" usa a
// API real; qualquer outro valor cai na homologação).
func NewClient(token, ambiente string, timeout time.Duration) *Client {
	base := baseSandbox
	if strings.EqualFold(ambiente, "production") || strings.EqualFold(ambiente, "producao") {
		base = baseProducao
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		token:   token,
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
	}
}

// do executa a requisição com Basic auth "token:" (senha vazia).
func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("erro montando requisição %s %s: %w", method, url, err)
	}
	req.SetBasicAuth(c.token, "")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErroTransporte{Op: method + " " + url, Err: err}
	}
	return resp, nil
}

// EnviarNFSe submete o pedido de emissão: POST {base}/nfse?ref={referencia}.
// Gateway que aceita (2xx sem formato de erro no corpo) devolve
// SituacaoPendente: a autorização em si é assíncrona e sai pela consulta.
func (c *Client) EnviarNFSe(ctx context.Context, referencia string, pedido interface{}) (*Resultado, error) {
	payload, err := json.Marshal(pedido)
	if err != nil {
		return nil, fmt.Errorf("erro serializando pedido de NFS-e: %w", err)
	}

	url := fmt.Sprintf("%s/nfse?ref=%s", c.baseURL, referencia)
	resp, err := c.do(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErroTransporte{Op: "leitura da resposta de envio", Err: err}
	}

	// O formato de erro no corpo tem prioridade sobre o status HTTP.
	if parsed := ParseErro(body); parsed != nil {
		return &Resultado{
			Situacao:     SituacaoRejeitada,
			ErroCodigo:   parsed.Codigo,
			ErroMensagem: parsed.Mensagem,
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sint := SintetizarErroHTTP(resp.StatusCode, body)
		return &Resultado{
			Situacao:     SituacaoRejeitada,
			ErroCodigo:   sint.Codigo,
			ErroMensagem: sint.Mensagem,
		}, nil
	}

	return &Resultado{Situacao: SituacaoPendente}, nil
}

// consultaResposta é o corpo da consulta de situação.
type consultaResposta struct {
	Status            string `json:"status"`
	Numero            string `json:"numero"`
	Chave             string `json:"chave_nfse"`
	CodigoVerificacao string `json:"codigo_verificacao"`
	URL               string `json:"url"`
	URLDanfse         string `json:"url_danfse"`
	CaminhoXML        string `json:"caminho_xml_nota_fiscal"`
	MensagemSefaz     string `json:"mensagem_sefaz"`
	CodigoErro        string `json:"codigo_erro"`
}

// ConsultarNFSe consulta a situação de uma emissão: GET {base}/nfse/{referencia}.
// Idempotente; pode ser repetida à vontade pelo worker e pelo refresh da UI.
func (c *Client) ConsultarNFSe(ctx context.Context, referencia string) (*Resultado, error) {
	url := fmt.Sprintf("%s/nfse/%s", c.baseURL, referencia)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ErroTransporte{Op: "leitura da resposta de consulta", Err: err}
	}

	// Referência ainda não indexada pelo gateway (janela entre o aceite e a
	// disponibilidade da consulta, ou recuperação pós-crash): segue em voo.
	if resp.StatusCode == http.StatusNotFound {
		return &Resultado{Situacao: SituacaoProcessando}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if parsed := ParseErro(body); parsed != nil {
			return nil, &ErroGateway{HTTPStatus: resp.StatusCode, Codigo: parsed.Codigo, Mensagem: parsed.Mensagem}
		}
		sint := SintetizarErroHTTP(resp.StatusCode, body)
		return nil, &ErroGateway{HTTPStatus: resp.StatusCode, Codigo: sint.Codigo, Mensagem: sint.Mensagem}
	}

	return ClassificarConsulta(body), nil
}

// ClassificarConsulta transforma o corpo 2xx de uma consulta num Resultado.
// Status desconhecido ou ausente NUNCA vira falha: a nota segue em
// processamento até a prefeitura dizer o contrário.
func ClassificarConsulta(body []byte) *Resultado {
	var cr consultaResposta
	_ = json.Unmarshal(body, &cr)

	switch cr.Status {
	case "autorizado":
		urlPdf := cr.URLDanfse
		if urlPdf == "" {
			urlPdf = cr.URL
		}
		return &Resultado{
			Situacao:          SituacaoAutorizada,
			Numero:            cr.Numero,
			Chave:             cr.Chave,
			CodigoVerificacao: cr.CodigoVerificacao,
			URLPdf:            urlPdf,
			URLXml:            cr.CaminhoXML,
		}

	case "erro_autorizacao":
		msg := cr.MensagemSefaz
		codigo := cr.CodigoErro
		if parsed := ParseErro(body); parsed != nil {
			if msg == "" {
				msg = parsed.Mensagem
			}
			if codigo == "" {
				codigo = parsed.Codigo
			}
		}
		if msg == "" {
			msg = "autorização rejeitada pela prefeitura sem detalhe"
		}
		return &Resultado{
			Situacao:     SituacaoRejeitada,
			ErroCodigo:   codigo,
			ErroMensagem: msg,
		}
	}

	// Sem status conclusivo, só a lista de erros da autoridade derruba a nota.
	// Corpo com mensagem solta ("nota na fila") é informativo e segue em voo.
	if parsed := ParseListaErros(body); parsed != nil {
		return &Resultado{
			Situacao:     SituacaoRejeitada,
			ErroCodigo:   parsed.Codigo,
			ErroMensagem: parsed.Mensagem,
		}
	}

	return &Resultado{Situacao: SituacaoProcessando}
}

// BaixarArquivo busca o PDF ou XML da nota: GET {base}/nfse/{referencia}.{tipo}.
// Quando o gateway devolve JSON no lugar do arquivo (erro), devolvemos um
// *ErroGateway em vez de repassar binário corrompido pro chamador.
func (c *Client) BaixarArquivo(ctx context.Context, referencia, tipo string) ([]byte, string, error) {
	if tipo != "pdf" && tipo != "xml" {
		return nil, "", fmt.Errorf("tipo de arquivo inválido: %q (use pdf ou xml)", tipo)
	}

	url := fmt.Sprintf("%s/nfse/%s.%s", c.baseURL, referencia, tipo)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &ErroTransporte{Op: "download do arquivo da nota", Err: err}
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "json") {
		if parsed := ParseErro(body); parsed != nil {
			return nil, "", &ErroGateway{HTTPStatus: resp.StatusCode, Codigo: parsed.Codigo, Mensagem: parsed.Mensagem}
		}
		sint := SintetizarErroHTTP(resp.StatusCode, body)
		return nil, "", &ErroGateway{HTTPStatus: resp.StatusCode, Codigo: sint.Codigo, Mensagem: sint.Mensagem}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sint := SintetizarErroHTTP(resp.StatusCode, body)
		return nil, "", &ErroGateway{HTTPStatus: resp.StatusCode, Codigo: sint.Codigo, Mensagem: sint.Mensagem}
	}

	if tipo == "xml" {
		if err := validarXMLSeHabilitado(body); err != nil {
			return nil, "", err
		}
	}

	return body, contentType, nil
}

// ============================================================================
// Validação XSD do XML baixado (opcional, controlada por env)
// ============================================================================

func validarXMLSeHabilitado(xmlData []byte) error {
	enabled := strings.ToLower(os.Getenv("NFSE_XSD_ENABLED"))
	if enabled != "true" && enabled != "1" && enabled != "yes" {
		return nil
	}

	xsdDir := os.Getenv("NFSE_XSD_DIR")
	xsdMain := os.Getenv("NFSE_XSD_MAIN")
	if xsdDir == "" {
		return fmt.Errorf("NFSE_XSD_ENABLED=true mas NFSE_XSD_DIR não foi definido")
	}
	if xsdMain == "" {
		return fmt.Errorf("NFSE_XSD_ENABLED=true mas NFSE_XSD_MAIN não foi definido (ex: nfse_v2.03.xsd)")
	}

	xsdPath := xsdMain
	if !filepath.IsAbs(xsdPath) {
		xsdPath = filepath.Join(xsdDir, xsdMain)
	}
	if _, err := os.Stat(xsdPath); err != nil {
		return fmt.Errorf("XSD não encontrado em %s: %w", xsdPath, err)
	}

	if err := xsdvalidate.Init(); err != nil {
		return fmt.Errorf("erro inicializando validador XSD: %w", err)
	}
	defer xsdvalidate.Cleanup()

	xsdHandler, err := xsdvalidate.NewXsdHandlerUrl(xsdPath, xsdvalidate.ParsErrDefault)
	if err != nil {
		return fmt.Errorf("erro carregando XSD %s: %w", xsdPath, err)
	}
	defer xsdHandler.Free()

	if err := xsdHandler.ValidateMem(xmlData, xsdvalidate.ValidErrDefault); err != nil {
		return fmt.Errorf("XML da nota inválido segundo XSD (%s): %w", xsdPath, err)
	}

	return nil
}
