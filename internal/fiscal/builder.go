package fiscal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ============================================================================
// Tipos de entrada – modelados pra bater com as tabelas do sistema
// ============================================================================

// OrdemFiscal é a ordem de serviço com tudo que a emissão precisa já junto
// (cliente, veículo, itens com o serviço de catálogo resolvido).
type OrdemFiscal struct {
	ID           int64
	TotalBruto   float64  // total_amount
	Desconto     float64  // discount
	TotalLiquido *float64 // final_amount (pode ser nulo)
	Status       string   // ciclo de vida da OS, não fiscal

	// Estado fiscal corrente (lido junto pra guardar a trava de reemissão)
	StatusNota     string
	ReferenciaNota string

	Cliente Cliente
	Veiculo *Veiculo
	Itens   []ItemOrdem
}

type Cliente struct {
	Nome      string
	Documento string // CPF ou CNPJ, como digitado
	Email     string
	Telefone  string

	Logradouro      string
	Numero          string
	Bairro          string
	CodigoMunicipio string
	Municipio       string
	UF              string
	CEP             string
}

type Veiculo struct {
	Modelo string
	Placa  string
}

// ItemOrdem é uma linha da ordem. Só itens de tipo "service" com serviço de
// catálogo resolvido entram na nota: produto não passa por NFS-e.
type ItemOrdem struct {
	Tipo          string // "product" | "service"
	Descricao     string
	Quantidade    float64
	ValorUnitario float64
	ValorTotal    float64
	Servico       *ServicoCatalogo
}

type ServicoCatalogo struct {
	Nome            string
	CodigoMunicipal string // codigo_servico_municipal
	CodigoNBS       string
	CodigoCNAE      string
	AliquotaISS     float64 // percentual
	IsentoNFSe      bool
}

// ConfiguracaoEmissor é a identidade fiscal do prestador (system_settings).
type ConfiguracaoEmissor struct {
	CNPJ               string
	RazaoSocial        string
	InscricaoMunicipal string
	CodigoMunicipio    string

	Logradouro string
	Numero     string
	Bairro     string
	Municipio  string
	UF         string
	CEP        string

	OptanteSimplesNacional   bool
	RegimeEspecialTributacao int // 0–6; só relevante fora do Simples
	IncentivoFiscal          bool

	FocusToken    string
	FocusAmbiente string // "sandbox" | "production"
}

// ============================================================================
// Payload do gateway (Focus NFe)
// ============================================================================

// DiscriminacaoMax é o tamanho máximo do campo discriminação no gateway.
const DiscriminacaoMax = 2000

type PedidoNFSe struct {
	DataEmissao              string    `json:"data_emissao"`
	NaturezaOperacao         string    `json:"natureza_operacao,omitempty"`
	OptanteSimplesNacional   bool      `json:"optante_simples_nacional"`
	RegimeEspecialTributacao *int      `json:"regime_especial_tributacao,omitempty"`
	IncentivadorCultural     bool      `json:"incentivador_cultural"`
	Prestador                Prestador `json:"prestador"`
	Tomador                  Tomador   `json:"tomador"`
	Servico                  Servico   `json:"servico"`
}

type Prestador struct {
	CNPJ               string `json:"cnpj"`
	InscricaoMunicipal string `json:"inscricao_municipal,omitempty"`
	CodigoMunicipio    string `json:"codigo_municipio"`
}

type Tomador struct {
	CPF         string    `json:"cpf,omitempty"`
	CNPJ        string    `json:"cnpj,omitempty"`
	RazaoSocial string    `json:"razao_social"`
	Email       string    `json:"email,omitempty"`
	Telefone    string    `json:"telefone,omitempty"`
	Endereco    *Endereco `json:"endereco,omitempty"`
}

type Endereco struct {
	Logradouro      string `json:"logradouro,omitempty"`
	Numero          string `json:"numero,omitempty"`
	Bairro          string `json:"bairro,omitempty"`
	CodigoMunicipio string `json:"codigo_municipio,omitempty"`
	Municipio       string `json:"municipio,omitempty"`
	UF              string `json:"uf,omitempty"`
	CEP             string `json:"cep,omitempty"`
}

type Servico struct {
	Aliquota         float64  `json:"aliquota,omitempty"`
	Discriminacao    string   `json:"discriminacao"`
	ISSRetido        bool     `json:"iss_retido"`
	ItemListaServico string   `json:"item_lista_servico,omitempty"`
	CodigoNBS        string   `json:"codigo_nbs,omitempty"`
	CodigoCNAE       string   `json:"codigo_cnae,omitempty"`
	ValorServicos    float64  `json:"valor_servicos"`
	ValorISS         *float64 `json:"valor_iss,omitempty"`
}

// ============================================================================
// Montagem do pedido
// ============================================================================

// MontarPedido roda as pré-condições de emissão NA ORDEM e, se todas passarem,
// monta o pedido pro gateway. Falha na primeira pré-condição que não passar
// (fail-fast, nunca monta pedido parcial) devolvendo *ErroValidacao.
// Não faz nenhuma chamada de rede e não mexe em estado persistido.
func MontarPedido(cfg *ConfiguracaoEmissor, ordem *OrdemFiscal) (*PedidoNFSe, error) {
	// 1. Configuração do emissor completa
	if err := validarEmissor(cfg); err != nil {
		return nil, err
	}

	// 2. Token do gateway presente
	if strings.TrimSpace(cfg.FocusToken) == "" {
		return nil, novaFalha(FalhaTokenAusente, "token do Focus NFe não configurado")
	}

	// 3. Ordem existe
	if ordem == nil {
		return nil, novaFalha(FalhaOrdemNaoEncontrada, "ordem de serviço não encontrada")
	}

	// 4. Cliente com nome e documento classificável
	if strings.TrimSpace(ordem.Cliente.Nome) == "" {
		return nil, novaFalha(FalhaClienteSemNome, "cliente da ordem sem nome")
	}
	if SomenteDigitos(ordem.Cliente.Documento) == "" {
		return nil, novaFalha(FalhaClienteSemDocumento, "cliente da ordem sem CPF ou CNPJ")
	}
	tipoDoc := ClassificarDocumento(ordem.Cliente.Documento)
	if tipoDoc == DocDesconhecido {
		return nil, novaFalha(FalhaDocumentoNaoClassificado, fmt.Sprintf(
			"documento do cliente tem %d dígitos, não é CPF (11) nem CNPJ (14); corrija o cadastro",
			len(SomenteDigitos(ordem.Cliente.Documento)),
		))
	}

	// 5. Ordem com itens
	if len(ordem.Itens) == 0 {
		return nil, novaFalha(FalhaSemItens, "ordem de serviço sem itens")
	}

	// 6. Pelo menos um item de serviço com catálogo resolvido
	servicos := itensDeServico(ordem.Itens)
	if len(servicos) == 0 {
		return nil, novaFalha(FalhaSemServicos, "ordem só tem produtos; NFS-e cobre apenas serviços")
	}

	// 7. Códigos fiscais de cada serviço (isento pula a validação)
	for _, it := range servicos {
		if it.Servico.IsentoNFSe {
			continue
		}
		if _, err := ValidarCodigoMunicipal(it.Servico.CodigoMunicipal); err != nil {
			return nil, &ErroValidacao{
				Tipo:     FalhaCodigoFiscal,
				Servico:  it.Servico.Nome,
				Mensagem: err.Error(),
			}
		}
	}

	return montar(cfg, ordem, servicos, tipoDoc), nil
}

func validarEmissor(cfg *ConfiguracaoEmissor) error {
	if cfg == nil {
		return &ErroValidacao{
			Tipo:     FalhaConfiguracaoEmissor,
			Mensagem: "configurações do emissor não cadastradas",
		}
	}

	var faltando []string
	check := func(campo, valor string) {
		if strings.TrimSpace(valor) == "" {
			faltando = append(faltando, campo)
		}
	}
	check("cnpj", cfg.CNPJ)
	check("razao_social", cfg.RazaoSocial)
	check("codigo_municipio", cfg.CodigoMunicipio)
	check("logradouro", cfg.Logradouro)
	check("municipio", cfg.Municipio)
	check("uf", cfg.UF)

	if len(faltando) > 0 {
		return &ErroValidacao{
			Tipo:     FalhaConfiguracaoEmissor,
			Campos:   faltando,
			Mensagem: "configurações do emissor incompletas",
		}
	}
	return nil
}

func itensDeServico(itens []ItemOrdem) []ItemOrdem {
	var out []ItemOrdem
	for _, it := range itens {
		if it.Tipo == "service" && it.Servico != nil {
			out = append(out, it)
		}
	}
	return out
}

func montar(cfg *ConfiguracaoEmissor, ordem *OrdemFiscal, servicos []ItemOrdem, tipoDoc TipoDocumento) *PedidoNFSe {
	total := ordem.TotalBruto
	if ordem.TotalLiquido != nil {
		total = *ordem.TotalLiquido
	}

	// Serviço "principal": o primeiro com código municipal válido. Se todos
	// forem isentos sem código, o campo item_lista_servico fica de fora e a
	// decisão final é da prefeitura.
	principal := servicos[0].Servico
	for _, it := range servicos {
		if _, err := ValidarCodigoMunicipal(it.Servico.CodigoMunicipal); err == nil {
			principal = it.Servico
			break
		}
	}

	srv := Servico{
		Discriminacao: montarDiscriminacao(servicos, ordem.Veiculo),
		ValorServicos: total,
		// iss_retido sempre false: optante do Simples não retém ISS e o
		// regime normal também não retém sem regra municipal específica.
		// Retenção por substituto tributário entra aqui quando houver
		// configuração própria pra isso.
		ISSRetido: false,
	}

	if digits, err := ValidarCodigoMunicipal(principal.CodigoMunicipal); err == nil {
		srv.ItemListaServico = AjustarCodigoMunicipal(digits)
	}
	srv.CodigoNBS = NormalizarCodigoNBS(principal.CodigoNBS)
	if cnae := SomenteDigitos(principal.CodigoCNAE); cnae != "" {
		srv.CodigoCNAE = cnae
	}

	if principal.AliquotaISS > 0 {
		srv.Aliquota = principal.AliquotaISS
		iss := total * principal.AliquotaISS / 100
		srv.ValorISS = &iss
	}

	pedido := &PedidoNFSe{
		DataEmissao:            time.Now().Format("2006-01-02"),
		NaturezaOperacao:       "1",
		OptanteSimplesNacional: cfg.OptanteSimplesNacional,
		IncentivadorCultural:   cfg.IncentivoFiscal,
		Prestador: Prestador{
			CNPJ:               SomenteDigitos(cfg.CNPJ),
			InscricaoMunicipal: SomenteDigitos(cfg.InscricaoMunicipal),
			CodigoMunicipio:    SomenteDigitos(cfg.CodigoMunicipio),
		},
		Tomador: montarTomador(ordem.Cliente, tipoDoc),
		Servico: srv,
	}

	// Optante do Simples nunca manda regime especial: a combinação dos dois
	// campos é rejeitada pela autoridade. Fora do Simples, só entra se estiver
	// em [1,6]; zero significa "sem regime especial" e o campo fica de fora.
	if !cfg.OptanteSimplesNacional && cfg.RegimeEspecialTributacao >= 1 && cfg.RegimeEspecialTributacao <= 6 {
		regime := cfg.RegimeEspecialTributacao
		pedido.RegimeEspecialTributacao = &regime
	}

	return pedido
}

func montarTomador(c Cliente, tipoDoc TipoDocumento) Tomador {
	t := Tomador{
		RazaoSocial: strings.TrimSpace(c.Nome),
		Email:       strings.TrimSpace(c.Email),
		Telefone:    LimparTelefone(c.Telefone),
	}

	doc := SomenteDigitos(c.Documento)
	switch tipoDoc {
	case DocCPF:
		t.CPF = doc
	case DocCNPJ:
		t.CNPJ = doc
	}

	end := Endereco{
		Logradouro:      strings.TrimSpace(c.Logradouro),
		Numero:          strings.TrimSpace(c.Numero),
		Bairro:          strings.TrimSpace(c.Bairro),
		CodigoMunicipio: SomenteDigitos(c.CodigoMunicipio),
		Municipio:       strings.TrimSpace(c.Municipio),
		UF:              strings.TrimSpace(c.UF),
		CEP:             LimparCEP(c.CEP),
	}
	if end != (Endereco{}) {
		t.Endereco = &end
	}

	return t
}

// montarDiscriminacao monta a lista numerada dos serviços, com o veículo no
// final, truncada no limite do campo do gateway.
func montarDiscriminacao(servicos []ItemOrdem, veiculo *Veiculo) string {
	var b strings.Builder
	for i, it := range servicos {
		if i > 0 {
			b.WriteString("\n")
		}
		qtd := strconv.FormatFloat(it.Quantidade, 'f', -1, 64)
		b.WriteString(fmt.Sprintf("%d. %s - qtd %s - valor %.2f", i+1, strings.TrimSpace(it.Descricao), qtd, it.ValorTotal))
	}

	if veiculo != nil {
		linha := strings.TrimSpace(fmt.Sprintf("Veículo: %s %s", veiculo.Modelo, veiculo.Placa))
		if linha != "Veículo:" {
			b.WriteString("\n")
			b.WriteString(linha)
		}
	}

	disc := b.String()
	if utf8.RuneCountInString(disc) > DiscriminacaoMax {
		disc = string([]rune(disc)[:DiscriminacaoMax])
	}
	return disc
}

// NovaReferencia gera a referência de correlação de uma tentativa de emissão.
// O timestamp garante unicidade entre reemissões da mesma ordem.
func NovaReferencia(ordemID int64) string {
	return fmt.Sprintf("os%d-%d", ordemID, time.Now().UnixMilli())
}
