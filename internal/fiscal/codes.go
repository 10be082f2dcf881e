package fiscal

import (
	"fmt"
	"strings"
)

// ============================================================================
// Normalização de códigos fiscais
//
// Código municipal e código NBS têm políticas de falha DIFERENTES de
// propósito: código municipal inválido é erro duro (rejeita a emissão),
// NBS fora da faixa cai num padrão. Não unificar.
// ============================================================================

// CodigoNBSPadrao é o NBS genérico de manutenção e reparação de veículos
// automotores, usado quando o código cadastrado está fora da faixa 7–9 dígitos.
const CodigoNBSPadrao = "116010100"

// larguraCodigoMunicipal é a largura fixa do campo item_lista_servico no gateway.
const larguraCodigoMunicipal = 6

// SomenteDigitos remove tudo que não for dígito decimal.
func SomenteDigitos(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidarCodigoMunicipal limpa o código de serviço municipal e exige pelo
// menos 4 dígitos. Erro aqui rejeita a ordem (FalhaCodigoFiscal no builder).
func ValidarCodigoMunicipal(raw string) (string, error) {
	digits := SomenteDigitos(raw)
	if len(digits) < 4 {
		return "", fmt.Errorf("código de serviço municipal inválido: %q normaliza para %q (mínimo 4 dígitos)", raw, digits)
	}
	return digits, nil
}

// AjustarCodigoMunicipal força a largura fixa de 6 caracteres exigida pelo
// campo item_lista_servico: completa com '0' à direita se menor, trunca nos
// 6 primeiros dígitos se maior. O cadastro chega com 4 a 8 dígitos.
func AjustarCodigoMunicipal(digits string) string {
	digits = SomenteDigitos(digits)
	if len(digits) >= larguraCodigoMunicipal {
		return digits[:larguraCodigoMunicipal]
	}
	return digits + strings.Repeat("0", larguraCodigoMunicipal-len(digits))
}

// NormalizarCodigoNBS limpa o código NBS e o leva a exatamente 9 dígitos:
// 7 ou 8 dígitos são completados com zeros à direita; fora da faixa [7,9]
// cai no CodigoNBSPadrao. Divergência de NBS é tolerada pela prefeitura com
// mais frequência do que código ausente, daí o fallback em vez de rejeição.
func NormalizarCodigoNBS(raw string) string {
	digits := SomenteDigitos(raw)
	if len(digits) < 7 || len(digits) > 9 {
		return CodigoNBSPadrao
	}
	if len(digits) < 9 {
		return digits + strings.Repeat("0", 9-len(digits))
	}
	return digits
}

// ============================================================================
// Documentos, telefone, CEP
// ============================================================================

// TipoDocumento classifica o documento do tomador pela contagem de dígitos.
type TipoDocumento string

const (
	DocCPF          TipoDocumento = "CPF"
	DocCNPJ         TipoDocumento = "CNPJ"
	DocDesconhecido TipoDocumento = ""
)

// ClassificarDocumento decide CPF (11 dígitos) ou CNPJ (14 dígitos).
// Qualquer outra contagem volta DocDesconhecido: o cadastro precisa ser
// corrigido pelo operador, nunca truncamos por conta própria.
func ClassificarDocumento(raw string) TipoDocumento {
	switch len(SomenteDigitos(raw)) {
	case 11:
		return DocCPF
	case 14:
		return DocCNPJ
	default:
		return DocDesconhecido
	}
}

// LimparTelefone limpa e trunca o telefone em 11 dígitos (DDD + 9 dígitos).
func LimparTelefone(raw string) string {
	digits := SomenteDigitos(raw)
	if len(digits) > 11 {
		return digits[:11]
	}
	return digits
}

// LimparCEP devolve o CEP com exatamente 8 dígitos, ou vazio: CEP fora desse
// formato fica de fora do pedido em vez de ir malformado pro gateway.
func LimparCEP(raw string) string {
	digits := SomenteDigitos(raw)
	if len(digits) != 8 {
		return ""
	}
	return digits
}
