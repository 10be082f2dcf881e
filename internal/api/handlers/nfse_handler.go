package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"oficina-nfse/internal/api/responses"
	"oficina-nfse/internal/fiscal"
	"oficina-nfse/internal/focus"
	"oficina-nfse/internal/nfse"
)

// NFSeHandler expõe o fluxo fiscal pra UI: emitir, consultar situação e
// baixar os arquivos da nota.
type NFSeHandler struct {
	servico *nfse.Service
}

func NewNFSeHandler(servico *nfse.Service) *NFSeHandler {
	return &NFSeHandler{servico: servico}
}

func ordemID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		responses.Error(c, http.StatusBadRequest, "id de ordem de serviço inválido")
		return 0, false
	}
	return id, true
}

// HandleEmitir dispara a emissão da NFS-e de uma ordem.
// POST /api/v1/ordens/:id/nfse
func (h *NFSeHandler) HandleEmitir(c *gin.Context) {
	id, ok := ordemID(c)
	if !ok {
		return
	}

	resp, err := h.servico.EmitirNota(c.Request.Context(), id)
	if err != nil {
		h.responderErro(c, err)
		return
	}

	status := http.StatusOK
	if !resp.Sucesso {
		// Rejeição síncrona do gateway: o chamador recebe o erro da
		// autoridade verbatim pra poder corrigir e reemitir.
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}

// HandleConsultar consulta a situação da emissão e aplica o desfecho.
// GET /api/v1/ordens/:id/nfse
func (h *NFSeHandler) HandleConsultar(c *gin.Context) {
	id, ok := ordemID(c)
	if !ok {
		return
	}

	resp, err := h.servico.ConsultarNota(c.Request.Context(), id)
	if err != nil {
		h.responderErro(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleBaixarArquivo proxia o download do PDF ou XML da nota.
// GET /api/v1/nfse/:referencia/arquivo/:tipo
func (h *NFSeHandler) HandleBaixarArquivo(c *gin.Context) {
	referencia := c.Param("referencia")
	tipo := c.Param("tipo")
	if referencia == "" {
		responses.Error(c, http.StatusBadRequest, "referência da nota não informada")
		return
	}

	dados, contentType, err := h.servico.BaixarArquivo(c.Request.Context(), referencia, tipo)
	if err != nil {
		h.responderErro(c, err)
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", "attachment; filename=nfse-"+referencia+"."+tipo)
	c.Data(http.StatusOK, contentType, dados)
}

// responderErro traduz a taxonomia de erros do núcleo fiscal em HTTP:
// validação/configuração são culpa do cadastro (4xx), gateway e transporte
// são o mundo externo (502).
func (h *NFSeHandler) responderErro(c *gin.Context, err error) {
	var ev *fiscal.ErroValidacao
	if errors.As(err, &ev) {
		status := http.StatusUnprocessableEntity
		switch ev.Tipo {
		case fiscal.FalhaOrdemNaoEncontrada:
			status = http.StatusNotFound
		case fiscal.FalhaEmissaoEmAndamento:
			status = http.StatusConflict
		}
		body := gin.H{
			"success":    false,
			"error":      ev.Error(),
			"error_kind": string(ev.Tipo),
		}
		if len(ev.Campos) > 0 {
			body["missing_fields"] = ev.Campos
		}
		c.JSON(status, body)
		return
	}

	var eg *focus.ErroGateway
	if errors.As(err, &eg) {
		c.JSON(http.StatusBadGateway, gin.H{
			"success":    false,
			"error":      eg.Mensagem,
			"error_code": eg.Codigo,
		})
		return
	}

	var et *focus.ErroTransporte
	if errors.As(err, &et) {
		c.JSON(http.StatusBadGateway, gin.H{
			"success":    false,
			"error":      et.Error(),
			"error_code": nfse.CodigoErroTransporte,
		})
		return
	}

	responses.Error(c, http.StatusInternalServerError, "erro interno processando a operação fiscal")
}
