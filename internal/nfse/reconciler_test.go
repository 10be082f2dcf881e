package nfse

import (
	"errors"
	"testing"

	"oficina-nfse/internal/focus"
)

func TestAplicarResultadoEnvio(t *testing.T) {
	t.Run("aceite avança para processando_autorizacao limpando erros", func(t *testing.T) {
		got := aplicarResultadoEnvio(&focus.Resultado{Situacao: focus.SituacaoPendente})
		if got.Status != StatusProcessandoAutorizacao {
			t.Errorf("status = %q", got.Status)
		}
		if got.Erro != "" || got.ErroCodigo != "" {
			t.Errorf("erros deveriam sair limpos: %+v", got)
		}
	})

	t.Run("rejeição síncrona grava erro e código", func(t *testing.T) {
		got := aplicarResultadoEnvio(&focus.Resultado{
			Situacao:     focus.SituacaoRejeitada,
			ErroCodigo:   "E123",
			ErroMensagem: "bad code",
		})
		if got.Status != StatusErro {
			t.Errorf("status = %q, esperava erro", got.Status)
		}
		if got.Erro != "bad code" || got.ErroCodigo != "E123" {
			t.Errorf("erro gravado errado: %+v", got)
		}
	})
}

func TestAplicarResultadoConsulta(t *testing.T) {
	t.Run("autorizada vira emitida com os dados da nota", func(t *testing.T) {
		got := aplicarResultadoConsulta(&focus.Resultado{
			Situacao:          focus.SituacaoAutorizada,
			Numero:            "555",
			Chave:             "CHV123",
			CodigoVerificacao: "ABC9",
			URLPdf:            "https://focusnfe/danfse.pdf",
			URLXml:            "/notas/555.xml",
		})
		if got.Status != StatusEmitida {
			t.Fatalf("status = %q, esperava emitida", got.Status)
		}
		if got.Numero != "555" || got.Chave != "CHV123" || got.CodigoVerificacao != "ABC9" {
			t.Errorf("dados da nota: %+v", got)
		}
		if got.Erro != "" || got.ErroCodigo != "" {
			t.Errorf("emitida deveria limpar erros de tentativas anteriores: %+v", got)
		}
	})

	t.Run("rejeitada vira erro_autorizacao", func(t *testing.T) {
		got := aplicarResultadoConsulta(&focus.Resultado{
			Situacao:     focus.SituacaoRejeitada,
			ErroCodigo:   "L003",
			ErroMensagem: "serviço não permitido",
		})
		if got.Status != StatusErroAutorizacao {
			t.Errorf("status = %q, esperava erro_autorizacao", got.Status)
		}
		if got.Erro != "serviço não permitido" || got.ErroCodigo != "L003" {
			t.Errorf("erro gravado errado: %+v", got)
		}
	})

	t.Run("ainda processando mantém processando_autorizacao sem erros", func(t *testing.T) {
		got := aplicarResultadoConsulta(&focus.Resultado{Situacao: focus.SituacaoProcessando})
		if got.Status != StatusProcessandoAutorizacao {
			t.Errorf("status = %q", got.Status)
		}
		if got.Erro != "" || got.ErroCodigo != "" {
			t.Errorf("sem desfecho não grava erro: %+v", got)
		}
	})

	t.Run("situação desconhecida nunca vira falha", func(t *testing.T) {
		got := aplicarResultadoConsulta(&focus.Resultado{Situacao: focus.Situacao("em_analise")})
		if got.Status != StatusProcessandoAutorizacao {
			t.Errorf("status = %q, situação desconhecida segue em voo", got.Status)
		}
	})
}

func TestAplicarErroTransporte(t *testing.T) {
	got := aplicarErroTransporte(errors.New("connection refused"))
	if got.Status != StatusErro {
		t.Errorf("status = %q, esperava erro", got.Status)
	}
	if got.ErroCodigo != CodigoErroTransporte {
		t.Errorf("codigo = %q, esperava %q", got.ErroCodigo, CodigoErroTransporte)
	}
	if got.Erro != "connection refused" {
		t.Errorf("erro = %q", got.Erro)
	}
}

func TestEmAndamento(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{status: StatusProcessando, want: true},
		{status: StatusProcessandoAutorizacao, want: true},
		{status: StatusEmitida, want: false},
		{status: StatusErroAutorizacao, want: false},
		{status: StatusErro, want: false},
		{status: "", want: false},
	}

	for _, tt := range tests {
		if got := emAndamento(tt.status); got != tt.want {
			t.Errorf("emAndamento(%q) = %v, esperava %v", tt.status, got, tt.want)
		}
	}
}
