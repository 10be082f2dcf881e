package nfse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"oficina-nfse/internal/fiscal"
	"oficina-nfse/internal/focus"
	"oficina-nfse/internal/metrics"
	"oficina-nfse/internal/storage"
)

// GatewayClient é a fatia do cliente Focus que o serviço usa. Interface
// pra permitir stub nos testes.
type GatewayClient interface {
	EnviarNFSe(ctx context.Context, referencia string, pedido interface{}) (*focus.Resultado, error)
	ConsultarNFSe(ctx context.Context, referencia string) (*focus.Resultado, error)
	BaixarArquivo(ctx context.Context, referencia, tipo string) ([]byte, string, error)
}

// Publisher enfileira um job de reconciliação depois de um envio aceito.
// Opcional: sem fila, a varredura do worker cobre.
type Publisher interface {
	PublicarReconciliacao(ctx context.Context, ordemID int64, referencia string) error
}

// Service orquestra o fluxo completo: carregar → validar → montar → enviar →
// reconciliar. O token do gateway vem das configurações a cada chamada, então
// o cliente HTTP é construído sob demanda.
type Service struct {
	store   *storage.Store
	fila    Publisher
	timeout time.Duration

	novoCliente func(token, ambiente string, timeout time.Duration) GatewayClient
}

func NewService(store *storage.Store, fila Publisher, timeout time.Duration) *Service {
	return &Service{
		store:   store,
		fila:    fila,
		timeout: timeout,
		novoCliente: func(token, ambiente string, timeout time.Duration) GatewayClient {
			return focus.NewClient(token, ambiente, timeout)
		},
	}
}

// EmissaoResposta é o retorno da operação de emissão para a UI.
type EmissaoResposta struct {
	Sucesso    bool   `json:"success"`
	Mensagem   string `json:"message,omitempty"`
	Erro       string `json:"error,omitempty"`
	ErroCodigo string `json:"error_code,omitempty"`
	Referencia string `json:"invoice_reference,omitempty"`
}

// ConsultaResposta é o retorno da operação de consulta de situação.
type ConsultaResposta struct {
	Sucesso    bool   `json:"success"`
	Status     string `json:"status"`
	Numero     string `json:"invoice_number,omitempty"`
	Erro       string `json:"error,omitempty"`
	ErroCodigo string `json:"error_code,omitempty"`
}

// EmitirNota roda o caminho de emissão de ponta a ponta para uma ordem.
//
// Falhas de configuração e validação voltam como *fiscal.ErroValidacao SEM
// tocar no estado fiscal persistido: a referência só é gravada (e o ciclo só
// começa) quando o pedido está pronto pra ir pro gateway.
func (s *Service) EmitirNota(ctx context.Context, ordemID int64) (*EmissaoResposta, error) {
	inicio := time.Now()

	cfg, err := s.store.CarregarConfiguracoes(ctx)
	if err != nil {
		return nil, err
	}

	ordem, err := s.store.CarregarOrdem(ctx, ordemID)
	if err != nil && !errors.Is(err, storage.ErrOrdemNaoEncontrada) {
		return nil, err
	}

	// Trava de reemissão: com emissão em voo, a UI (e qualquer outro
	// chamador) não inicia um segundo ciclo pra mesma ordem.
	if ordem != nil && emAndamento(ordem.StatusNota) {
		metrics.ObserveEmissao("validacao", time.Since(inicio))
		return nil, &fiscal.ErroValidacao{
			Tipo: fiscal.FalhaEmissaoEmAndamento,
			Mensagem: fmt.Sprintf(
				"ordem %d já tem emissão em andamento (referência %s); aguarde o desfecho antes de reemitir",
				ordemID, ordem.ReferenciaNota,
			),
		}
	}

	pedido, err := fiscal.MontarPedido(cfg, ordem)
	if err != nil {
		metrics.ObserveEmissao("validacao", time.Since(inicio))
		return nil, err
	}

	// Referência gravada ANTES da chamada de rede: queda no meio do caminho
	// se recupera re-consultando com a referência persistida.
	referencia := fiscal.NovaReferencia(ordemID)
	if err := s.store.IniciarEmissao(ctx, ordemID, referencia); err != nil {
		return nil, err
	}

	cliente := s.novoCliente(cfg.FocusToken, cfg.FocusAmbiente, s.timeout)
	res, err := cliente.EnviarNFSe(ctx, referencia, pedido)
	if err != nil {
		// Falha de transporte: gravada com código próprio, nunca com o
		// vocabulário de erros do gateway.
		var et *focus.ErroTransporte
		if errors.As(err, &et) {
			if uerr := s.store.AplicarAtualizacaoFiscal(ctx, ordemID, aplicarErroTransporte(err)); uerr != nil {
				slog.Error("erro gravando falha de transporte", "ordem_id", ordemID, "err", uerr)
			}
			metrics.ObserveEmissao("transporte", time.Since(inicio))
		}
		return nil, err
	}

	atual := aplicarResultadoEnvio(res)
	if err := s.store.AplicarAtualizacaoFiscal(ctx, ordemID, atual); err != nil {
		return nil, err
	}

	if res.Situacao == focus.SituacaoRejeitada {
		metrics.ObserveEmissao("rejeitada", time.Since(inicio))
		slog.Warn("emissão rejeitada pelo gateway",
			"ordem_id", ordemID,
			"referencia", referencia,
			"codigo", res.ErroCodigo,
		)
		return &EmissaoResposta{
			Sucesso:    false,
			Erro:       res.ErroMensagem,
			ErroCodigo: res.ErroCodigo,
			Referencia: referencia,
		}, nil
	}

	// Aceito: a autorização sai depois, via consulta.
	if s.fila != nil {
		if err := s.fila.PublicarReconciliacao(ctx, ordemID, referencia); err != nil {
			// A varredura do worker cobre; só registra.
			slog.Warn("erro enfileirando reconciliação, varredura vai cobrir",
				"ordem_id", ordemID,
				"referencia", referencia,
				"err", err,
			)
		}
	}

	metrics.ObserveEmissao("aceita", time.Since(inicio))
	slog.Info("emissão aceita pelo gateway, aguardando autorização",
		"ordem_id", ordemID,
		"referencia", referencia,
	)
	return &EmissaoResposta{
		Sucesso:    true,
		Mensagem:   "emissão aceita; autorização em processamento",
		Referencia: referencia,
	}, nil
}

// ConsultarNota roda o caminho de consulta: busca a situação no gateway e
// aplica exatamente um resultado na ordem. Idempotente.
//
// Falha de transporte ou erro HTTP do gateway na consulta NÃO mexe no estado
// persistido: a nota segue em processamento e a consulta pode ser repetida.
func (s *Service) ConsultarNota(ctx context.Context, ordemID int64) (*ConsultaResposta, error) {
	inicio := time.Now()

	cfg, err := s.store.CarregarConfiguracoes(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil || cfg.FocusToken == "" {
		return nil, &fiscal.ErroValidacao{
			Tipo:     fiscal.FalhaTokenAusente,
			Mensagem: "token do Focus NFe não configurado",
		}
	}

	ordem, err := s.store.CarregarOrdem(ctx, ordemID)
	if err != nil {
		if errors.Is(err, storage.ErrOrdemNaoEncontrada) {
			return nil, &fiscal.ErroValidacao{
				Tipo:     fiscal.FalhaOrdemNaoEncontrada,
				Mensagem: "ordem de serviço não encontrada",
			}
		}
		return nil, err
	}

	if ordem.ReferenciaNota == "" {
		return nil, &fiscal.ErroValidacao{
			Tipo:     fiscal.FalhaSemReferencia,
			Mensagem: fmt.Sprintf("ordem %d nunca teve emissão submetida; nada a consultar", ordemID),
		}
	}

	// Nota já autorizada: desfecho terminal, sem nova ida ao gateway.
	if ordem.StatusNota == StatusEmitida {
		return &ConsultaResposta{Sucesso: true, Status: StatusEmitida}, nil
	}

	cliente := s.novoCliente(cfg.FocusToken, cfg.FocusAmbiente, s.timeout)
	res, err := cliente.ConsultarNFSe(ctx, ordem.ReferenciaNota)
	if err != nil {
		metrics.ObserveConsulta("transporte", time.Since(inicio))
		return nil, err
	}

	atual := aplicarResultadoConsulta(res)
	if err := s.store.AplicarAtualizacaoFiscal(ctx, ordemID, atual); err != nil {
		return nil, err
	}

	switch res.Situacao {
	case focus.SituacaoAutorizada:
		metrics.ObserveConsulta("autorizada", time.Since(inicio))
		slog.Info("NFS-e autorizada",
			"ordem_id", ordemID,
			"referencia", ordem.ReferenciaNota,
			"numero", res.Numero,
		)
	case focus.SituacaoRejeitada:
		metrics.ObserveConsulta("rejeitada", time.Since(inicio))
		slog.Warn("NFS-e rejeitada pela prefeitura",
			"ordem_id", ordemID,
			"referencia", ordem.ReferenciaNota,
			"codigo", res.ErroCodigo,
		)
	default:
		metrics.ObserveConsulta("processando", time.Since(inicio))
	}

	return &ConsultaResposta{
		Sucesso:    true,
		Status:     atual.Status,
		Numero:     atual.Numero,
		Erro:       atual.Erro,
		ErroCodigo: atual.ErroCodigo,
	}, nil
}

// BaixarArquivo proxia o download autenticado do PDF ou XML da nota.
// Devolve os bytes e o content-type pro handler repassar.
func (s *Service) BaixarArquivo(ctx context.Context, referencia, tipo string) ([]byte, string, error) {
	cfg, err := s.store.CarregarConfiguracoes(ctx)
	if err != nil {
		return nil, "", err
	}
	if cfg == nil || cfg.FocusToken == "" {
		return nil, "", &fiscal.ErroValidacao{
			Tipo:     fiscal.FalhaTokenAusente,
			Mensagem: "token do Focus NFe não configurado",
		}
	}

	cliente := s.novoCliente(cfg.FocusToken, cfg.FocusAmbiente, s.timeout)
	return cliente.BaixarArquivo(ctx, referencia, tipo)
}
