package focus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ============================================================================
// Classificação das respostas de erro do gateway
//
// O Focus NFe (e as prefeituras atrás dele) devolve erro em pelo menos sete
// formatos diferentes. Cada formato vira um matcher puro; tentamos na ordem
// de prioridade e o primeiro que casar ganha.
// ============================================================================

// ErroParseado é o erro do gateway já normalizado.
type ErroParseado struct {
	Codigo   string
	Mensagem string
}

type matcher func(body map[string]interface{}) *ErroParseado

// matchers na ordem de prioridade. Não reordenar: formatos aninhados são mais
// específicos e precisam vencer os genéricos.
var matchers = []matcher{
	matchMetadataErros,  // metadata.response.data.erros[]
	matchDataErros,      // data.erros[]
	matchErros,          // erros[] (objetos ou strings soltas)
	matchMensagemSefaz,  // mensagem_sefaz + codigo_erro
	matchMensagemCodigo, // mensagem + codigo
	matchMessageCode,    // message + code
	matchErroString,     // erro: "..."
}

// ParseErro tenta reconhecer um corpo de erro do gateway. Devolve nil quando
// nenhum formato conhecido casa (corpo não-JSON inclusive).
func ParseErro(body []byte) *ErroParseado {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	for _, match := range matchers {
		if e := match(m); e != nil {
			return e
		}
	}
	return nil
}

// ParseListaErros reconhece apenas os formatos de lista erros[] (aninhados ou
// no topo). Usado quando NÃO há status conclusivo na resposta: uma chave
// "mensagem"/"erro" solta pode ser puramente informativa ("nota na fila"),
// mas lista de erros da autoridade é sempre rejeição.
func ParseListaErros(body []byte) *ErroParseado {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		return nil
	}
	for _, match := range []matcher{matchMetadataErros, matchDataErros, matchErros} {
		if e := match(m); e != nil {
			return e
		}
	}
	return nil
}

func matchMetadataErros(m map[string]interface{}) *ErroParseado {
	meta, ok := m["metadata"].(map[string]interface{})
	if !ok {
		return nil
	}
	resp, ok := meta["response"].(map[string]interface{})
	if !ok {
		return nil
	}
	data, ok := resp["data"].(map[string]interface{})
	if !ok {
		return nil
	}
	return errosDeLista(data["erros"])
}

func matchDataErros(m map[string]interface{}) *ErroParseado {
	data, ok := m["data"].(map[string]interface{})
	if !ok {
		return nil
	}
	return errosDeLista(data["erros"])
}

func matchErros(m map[string]interface{}) *ErroParseado {
	return errosDeLista(m["erros"])
}

func matchMensagemSefaz(m map[string]interface{}) *ErroParseado {
	msg, _ := m["mensagem_sefaz"].(string)
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	codigo, _ := m["codigo_erro"].(string)
	return &ErroParseado{Codigo: codigo, Mensagem: msg}
}

func matchMensagemCodigo(m map[string]interface{}) *ErroParseado {
	msg, _ := m["mensagem"].(string)
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	codigo := stringOuNumero(m["codigo"])
	return &ErroParseado{Codigo: codigo, Mensagem: msg}
}

func matchMessageCode(m map[string]interface{}) *ErroParseado {
	msg, _ := m["message"].(string)
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	codigo := stringOuNumero(m["code"])
	return &ErroParseado{Codigo: codigo, Mensagem: msg}
}

func matchErroString(m map[string]interface{}) *ErroParseado {
	msg, _ := m["erro"].(string)
	if strings.TrimSpace(msg) == "" {
		return nil
	}
	return &ErroParseado{Mensagem: msg}
}

// errosDeLista normaliza um array de erros: elementos podem ser objetos
// {Codigo, Descricao} (maiúsculo ou minúsculo) ou strings soltas. O resultado
// concatena linhas "[codigo] descricao"; o primeiro código vira o código do erro.
func errosDeLista(v interface{}) *ErroParseado {
	lista, ok := v.([]interface{})
	if !ok || len(lista) == 0 {
		return nil
	}

	var linhas []string
	primeiro := ""
	for _, el := range lista {
		switch t := el.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				linhas = append(linhas, t)
			}
		case map[string]interface{}:
			codigo := primeiroString(t, "Codigo", "codigo")
			desc := primeiroString(t, "Descricao", "descricao", "mensagem")
			if codigo == "" && desc == "" {
				continue
			}
			if primeiro == "" {
				primeiro = codigo
			}
			if codigo != "" {
				linhas = append(linhas, fmt.Sprintf("[%s] %s", codigo, desc))
			} else {
				linhas = append(linhas, desc)
			}
		}
	}

	if len(linhas) == 0 {
		return nil
	}
	return &ErroParseado{
		Codigo:   primeiro,
		Mensagem: strings.Join(linhas, "\n"),
	}
}

func primeiroString(m map[string]interface{}, chaves ...string) string {
	for _, k := range chaves {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func stringOuNumero(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}

// SintetizarErroHTTP monta uma mensagem acionável quando o corpo não tem
// nenhum formato de erro conhecido e o status HTTP é de falha.
func SintetizarErroHTTP(status int, body []byte) *ErroParseado {
	excerto := strings.TrimSpace(string(body))
	if len(excerto) > 300 {
		excerto = excerto[:300]
	}

	var msg string
	switch status {
	case 401:
		msg = "gateway recusou as credenciais (401): confira o token do Focus NFe nas configurações"
	case 403:
		msg = "gateway negou a operação (403): o token não tem permissão para este recurso"
	case 404:
		msg = "recurso não encontrado no gateway (404): confira o ambiente configurado (sandbox/produção)"
	case 422:
		msg = "gateway rejeitou o pedido (422): " + excerto
	case 500:
		msg = "erro interno do gateway (500): tente novamente em alguns minutos"
	default:
		msg = fmt.Sprintf("resposta inesperada do gateway (HTTP %d): %s", status, excerto)
	}

	return &ErroParseado{
		Codigo:   fmt.Sprintf("http_%d", status),
		Mensagem: msg,
	}
}
