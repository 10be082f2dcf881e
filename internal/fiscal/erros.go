package fiscal

import (
	"fmt"
	"strings"
)

// TipoFalha identifica qual pré-condição de emissão falhou.
type TipoFalha string

const (
	FalhaConfiguracaoEmissor      TipoFalha = "configuracao_emissor"
	FalhaTokenAusente             TipoFalha = "token_ausente"
	FalhaOrdemNaoEncontrada       TipoFalha = "ordem_nao_encontrada"
	FalhaClienteSemNome           TipoFalha = "cliente_sem_nome"
	FalhaClienteSemDocumento      TipoFalha = "cliente_sem_documento"
	FalhaDocumentoNaoClassificado TipoFalha = "documento_nao_classificado"
	FalhaSemItens                 TipoFalha = "sem_itens"
	FalhaSemServicos              TipoFalha = "sem_servicos_tributaveis"
	FalhaCodigoFiscal             TipoFalha = "codigo_fiscal_invalido"
	FalhaEmissaoEmAndamento       TipoFalha = "emissao_em_andamento"
	FalhaSemReferencia            TipoFalha = "sem_referencia"
)

// ErroValidacao é devolvido ao chamador ANTES de qualquer chamada de rede.
// Nunca é gravado nos campos fiscais da ordem: o operador corrige o cadastro
// (ou as configurações) e reemite.
type ErroValidacao struct {
	Tipo     TipoFalha
	Campos   []string // campos faltantes, quando Tipo = configuracao_emissor
	Servico  string   // serviço ofensor, quando Tipo = codigo_fiscal_invalido
	Mensagem string
}

func (e *ErroValidacao) Error() string {
	if len(e.Campos) > 0 {
		return fmt.Sprintf("%s (campos: %s)", e.Mensagem, strings.Join(e.Campos, ", "))
	}
	if e.Servico != "" {
		return fmt.Sprintf("%s (serviço: %s)", e.Mensagem, e.Servico)
	}
	return e.Mensagem
}

// Configuracao indica se a falha é de configuração do emissor (corrige-se nas
// configurações do sistema) e não de dados da ordem/cliente.
func (e *ErroValidacao) Configuracao() bool {
	return e.Tipo == FalhaConfiguracaoEmissor || e.Tipo == FalhaTokenAusente
}

func novaFalha(tipo TipoFalha, mensagem string) *ErroValidacao {
	return &ErroValidacao{Tipo: tipo, Mensagem: mensagem}
}
