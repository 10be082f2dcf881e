package fiscal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func cfgValida() *ConfiguracaoEmissor {
	return &ConfiguracaoEmissor{
		CNPJ:            "12.345.678/0001-90",
		RazaoSocial:     "Oficina Boa Vista LTDA",
		CodigoMunicipio: "3550308",
		Logradouro:      "Rua das Oficinas",
		Numero:          "100",
		Bairro:          "Centro",
		Municipio:       "São Paulo",
		UF:              "SP",
		CEP:             "01310-100",

		OptanteSimplesNacional: true,
		FocusToken:             "tok-123",
		FocusAmbiente:          "sandbox",
	}
}

func ordemValida() *OrdemFiscal {
	return &OrdemFiscal{
		ID:         42,
		TotalBruto: 350,
		Cliente: Cliente{
			Nome:      "Maria da Silva",
			Documento: "123.456.789-01",
		},
		Veiculo: &Veiculo{Modelo: "Gol 1.6", Placa: "ABC1D23"},
		Itens: []ItemOrdem{
			{
				Tipo:          "service",
				Descricao:     "Troca de óleo",
				Quantidade:    1,
				ValorUnitario: 150,
				ValorTotal:    150,
				Servico: &ServicoCatalogo{
					Nome:            "Troca de óleo",
					CodigoMunicipal: "14.01",
					CodigoNBS:       "1160101",
					AliquotaISS:     5,
				},
			},
			{
				Tipo:          "product",
				Descricao:     "Óleo 5W30",
				Quantidade:    4,
				ValorUnitario: 50,
				ValorTotal:    200,
			},
		},
	}
}

func exigeFalha(t *testing.T, err error, tipo TipoFalha) *ErroValidacao {
	t.Helper()
	var ev *ErroValidacao
	if !errors.As(err, &ev) {
		t.Fatalf("esperava *ErroValidacao, veio %T: %v", err, err)
	}
	if ev.Tipo != tipo {
		t.Fatalf("esperava falha %q, veio %q (%v)", tipo, ev.Tipo, ev)
	}
	return ev
}

func TestMontarPedidoPreCondicoes(t *testing.T) {
	t.Run("config do emissor incompleta vence tudo", func(t *testing.T) {
		cfg := cfgValida()
		cfg.CNPJ = ""
		cfg.UF = ""
		cfg.FocusToken = "" // token ausente também, mas a config vem primeiro

		_, err := MontarPedido(cfg, nil)
		ev := exigeFalha(t, err, FalhaConfiguracaoEmissor)
		if len(ev.Campos) != 2 {
			t.Errorf("esperava 2 campos faltantes, veio %v", ev.Campos)
		}
	})

	t.Run("config nula", func(t *testing.T) {
		_, err := MontarPedido(nil, ordemValida())
		exigeFalha(t, err, FalhaConfiguracaoEmissor)
	})

	t.Run("token ausente", func(t *testing.T) {
		cfg := cfgValida()
		cfg.FocusToken = "   "
		_, err := MontarPedido(cfg, ordemValida())
		exigeFalha(t, err, FalhaTokenAusente)
	})

	t.Run("ordem nula", func(t *testing.T) {
		_, err := MontarPedido(cfgValida(), nil)
		exigeFalha(t, err, FalhaOrdemNaoEncontrada)
	})

	t.Run("cliente sem nome", func(t *testing.T) {
		ordem := ordemValida()
		ordem.Cliente.Nome = "  "
		_, err := MontarPedido(cfgValida(), ordem)
		exigeFalha(t, err, FalhaClienteSemNome)
	})

	t.Run("cliente sem documento", func(t *testing.T) {
		ordem := ordemValida()
		ordem.Cliente.Documento = "---"
		_, err := MontarPedido(cfgValida(), ordem)
		exigeFalha(t, err, FalhaClienteSemDocumento)
	})

	t.Run("documento com contagem estranha nunca trunca", func(t *testing.T) {
		ordem := ordemValida()
		ordem.Cliente.Documento = "123456789012" // 12 dígitos
		_, err := MontarPedido(cfgValida(), ordem)
		exigeFalha(t, err, FalhaDocumentoNaoClassificado)
	})

	t.Run("ordem sem itens", func(t *testing.T) {
		ordem := ordemValida()
		ordem.Itens = nil
		_, err := MontarPedido(cfgValida(), ordem)
		exigeFalha(t, err, FalhaSemItens)
	})

	t.Run("ordem so com produtos", func(t *testing.T) {
		ordem := ordemValida()
		ordem.Itens = ordem.Itens[1:] // fica só o produto
		_, err := MontarPedido(cfgValida(), ordem)
		exigeFalha(t, err, FalhaSemServicos)
	})

	t.Run("codigo municipal invalido rejeita e nomeia o servico", func(t *testing.T) {
		ordem := ordemValida()
		ordem.Itens[0].Servico.CodigoMunicipal = "101"
		_, err := MontarPedido(cfgValida(), ordem)
		ev := exigeFalha(t, err, FalhaCodigoFiscal)
		if ev.Servico != "Troca de óleo" {
			t.Errorf("serviço ofensor = %q", ev.Servico)
		}
	})

	t.Run("servico isento pula validacao de codigos", func(t *testing.T) {
		ordem := ordemValida()
		ordem.Itens[0].Servico.CodigoMunicipal = ""
		ordem.Itens[0].Servico.IsentoNFSe = true
		if _, err := MontarPedido(cfgValida(), ordem); err != nil {
			t.Fatalf("serviço isento não deveria falhar: %v", err)
		}
	})
}

func TestMontarPedidoPayload(t *testing.T) {
	pedido, err := MontarPedido(cfgValida(), ordemValida())
	if err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}

	if pedido.Servico.ISSRetido {
		t.Error("iss_retido deveria ser sempre false")
	}
	if pedido.Servico.ItemListaServico != "140100" {
		t.Errorf("item_lista_servico = %q, esperava 140100", pedido.Servico.ItemListaServico)
	}
	if pedido.Servico.CodigoNBS != "116010100" {
		t.Errorf("codigo_nbs = %q, esperava 116010100", pedido.Servico.CodigoNBS)
	}
	if pedido.Servico.ValorServicos != 350 {
		t.Errorf("valor_servicos = %v, esperava 350 (total bruto, sem final_amount)", pedido.Servico.ValorServicos)
	}
	if pedido.Servico.ValorISS == nil || *pedido.Servico.ValorISS != 17.5 {
		t.Errorf("valor_iss = %v, esperava 17.5", pedido.Servico.ValorISS)
	}
	if pedido.Tomador.CPF != "12345678901" || pedido.Tomador.CNPJ != "" {
		t.Errorf("tomador deveria levar CPF limpo, veio cpf=%q cnpj=%q", pedido.Tomador.CPF, pedido.Tomador.CNPJ)
	}
	if !strings.Contains(pedido.Servico.Discriminacao, "1. Troca de óleo - qtd 1 - valor 150.00") {
		t.Errorf("discriminação sem a linha do serviço: %q", pedido.Servico.Discriminacao)
	}
	if !strings.Contains(pedido.Servico.Discriminacao, "Veículo: Gol 1.6 ABC1D23") {
		t.Errorf("discriminação sem o veículo: %q", pedido.Servico.Discriminacao)
	}
	if strings.Contains(pedido.Servico.Discriminacao, "Óleo 5W30") {
		t.Errorf("produto não entra na discriminação: %q", pedido.Servico.Discriminacao)
	}
}

func TestMontarPedidoTotalLiquido(t *testing.T) {
	ordem := ordemValida()
	liquido := 300.0
	ordem.TotalLiquido = &liquido

	pedido, err := MontarPedido(cfgValida(), ordem)
	if err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}
	if pedido.Servico.ValorServicos != 300 {
		t.Errorf("valor_servicos = %v, esperava final_amount 300", pedido.Servico.ValorServicos)
	}
}

func TestRegimeEspecialTributacao(t *testing.T) {
	marshalKeys := func(t *testing.T, pedido *PedidoNFSe) map[string]json.RawMessage {
		t.Helper()
		raw, err := json.Marshal(pedido)
		if err != nil {
			t.Fatalf("erro serializando pedido: %v", err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("erro relendo pedido: %v", err)
		}
		return m
	}

	t.Run("simples nacional nunca manda regime especial", func(t *testing.T) {
		cfg := cfgValida()
		cfg.OptanteSimplesNacional = true
		cfg.RegimeEspecialTributacao = 3

		pedido, err := MontarPedido(cfg, ordemValida())
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if _, ok := marshalKeys(t, pedido)["regime_especial_tributacao"]; ok {
			t.Error("optante do Simples não pode mandar regime_especial_tributacao")
		}
	})

	t.Run("fora do simples com regime zero omite o campo", func(t *testing.T) {
		cfg := cfgValida()
		cfg.OptanteSimplesNacional = false
		cfg.RegimeEspecialTributacao = 0

		pedido, err := MontarPedido(cfg, ordemValida())
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if _, ok := marshalKeys(t, pedido)["regime_especial_tributacao"]; ok {
			t.Error("regime zero significa sem regime especial; campo deveria ficar de fora")
		}
	})

	t.Run("fora do simples com regime valido manda o campo", func(t *testing.T) {
		cfg := cfgValida()
		cfg.OptanteSimplesNacional = false
		cfg.RegimeEspecialTributacao = 4

		pedido, err := MontarPedido(cfg, ordemValida())
		if err != nil {
			t.Fatalf("erro inesperado: %v", err)
		}
		if pedido.RegimeEspecialTributacao == nil || *pedido.RegimeEspecialTributacao != 4 {
			t.Errorf("regime_especial_tributacao = %v, esperava 4", pedido.RegimeEspecialTributacao)
		}
	})
}

func TestDiscriminacaoTruncada(t *testing.T) {
	ordem := ordemValida()
	longa := strings.Repeat("manutenção preventiva completa ", 100)
	ordem.Itens[0].Descricao = longa

	pedido, err := MontarPedido(cfgValida(), ordem)
	if err != nil {
		t.Fatalf("erro inesperado: %v", err)
	}

	runes := []rune(pedido.Servico.Discriminacao)
	if len(runes) > DiscriminacaoMax {
		t.Errorf("discriminação com %d runes, limite é %d", len(runes), DiscriminacaoMax)
	}
}

func TestNovaReferencia(t *testing.T) {
	ref := NovaReferencia(42)
	if !strings.HasPrefix(ref, "os42-") {
		t.Errorf("referência %q deveria começar com os42-", ref)
	}
}
