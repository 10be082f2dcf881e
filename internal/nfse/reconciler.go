package nfse

import (
	"oficina-nfse/internal/focus"
	"oficina-nfse/internal/storage"
)

// ============================================================================
// Máquina de estados do invoice_status
//
//	"" → processando → processando_autorizacao → emitida
//	                                          → erro_autorizacao (rejeitada)
//	                                          → erro (transporte/síncrono)
//
// Os dois estados de falha são terminais mas reemissíveis: uma nova emissão
// recomeça o ciclo com referência nova.
// ============================================================================

const (
	StatusProcessando            = "processando"
	StatusProcessandoAutorizacao = "processando_autorizacao"
	StatusEmitida                = "emitida"
	StatusErroAutorizacao        = "erro_autorizacao"
	StatusErro                   = "erro"
)

// CodigoErroTransporte marca no invoice_error_code que a falha foi de rede,
// nunca de negócio: distingue do vocabulário de códigos do gateway.
const CodigoErroTransporte = "transporte"

// aplicarResultadoEnvio traduz o desfecho síncrono do envio nos campos
// fiscais da ordem.
func aplicarResultadoEnvio(res *focus.Resultado) storage.AtualizacaoFiscal {
	if res.Situacao == focus.SituacaoRejeitada {
		return storage.AtualizacaoFiscal{
			Status:     StatusErro,
			Erro:       res.ErroMensagem,
			ErroCodigo: res.ErroCodigo,
		}
	}

	// Aceito: aguardando a prefeitura. Erros de tentativas anteriores são
	// limpos junto.
	return storage.AtualizacaoFiscal{
		Status: StatusProcessandoAutorizacao,
	}
}

// aplicarResultadoConsulta traduz o desfecho de uma consulta de situação.
// Situação desconhecida ou ainda em voo mantém processando_autorizacao:
// nunca marcamos falha em cima de status que não reconhecemos.
func aplicarResultadoConsulta(res *focus.Resultado) storage.AtualizacaoFiscal {
	switch res.Situacao {
	case focus.SituacaoAutorizada:
		return storage.AtualizacaoFiscal{
			Status:            StatusEmitida,
			Numero:            res.Numero,
			Chave:             res.Chave,
			CodigoVerificacao: res.CodigoVerificacao,
			URLPdf:            res.URLPdf,
			URLXml:            res.URLXml,
		}

	case focus.SituacaoRejeitada:
		return storage.AtualizacaoFiscal{
			Status:     StatusErroAutorizacao,
			Erro:       res.ErroMensagem,
			ErroCodigo: res.ErroCodigo,
		}
	}

	return storage.AtualizacaoFiscal{
		Status: StatusProcessandoAutorizacao,
	}
}

// aplicarErroTransporte grava a falha de rede do envio nos campos fiscais.
func aplicarErroTransporte(err error) storage.AtualizacaoFiscal {
	return storage.AtualizacaoFiscal{
		Status:     StatusErro,
		Erro:       err.Error(),
		ErroCodigo: CodigoErroTransporte,
	}
}

// emAndamento diz se a ordem tem emissão em voo (trava de reemissão).
func emAndamento(status string) bool {
	return status == StatusProcessando || status == StatusProcessandoAutorizacao
}
