package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"oficina-nfse/internal/fiscal"
)

// ErrOrdemNaoEncontrada indica que a ordem de serviço não existe.
var ErrOrdemNaoEncontrada = errors.New("ordem de serviço não encontrada")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ============================================================================
// Leitura: configurações do emissor (system_settings, linha única)
// ============================================================================

// CarregarConfiguracoes lê a identidade fiscal do emissor. Sem linha cadastrada
// devolve nil (o builder transforma isso em falha de configuração).
func (s *Store) CarregarConfiguracoes(ctx context.Context) (*fiscal.ConfiguracaoEmissor, error) {
	const q = `
SELECT
	cnpj,
	razao_social,
	inscricao_municipal,
	codigo_municipio,
	logradouro,
	numero,
	bairro,
	cidade,
	estado,
	cep,
	optante_simples_nacional,
	regime_especial_tributacao,
	incentivo_fiscal,
	focus_nfe_token,
	focus_nfe_environment
FROM system_settings
ORDER BY id
LIMIT 1;
`

	var (
		cfg                                         fiscal.ConfiguracaoEmissor
		inscricao, logradouro, numero, bairro, cep  sql.NullString
		cidade, estado, token, ambiente             sql.NullString
		regime                                      sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, q).Scan(
		&cfg.CNPJ,
		&cfg.RazaoSocial,
		&inscricao,
		&cfg.CodigoMunicipio,
		&logradouro,
		&numero,
		&bairro,
		&cidade,
		&estado,
		&cep,
		&cfg.OptanteSimplesNacional,
		&regime,
		&cfg.IncentivoFiscal,
		&token,
		&ambiente,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("erro lendo system_settings: %w", err)
	}

	cfg.InscricaoMunicipal = inscricao.String
	cfg.Logradouro = logradouro.String
	cfg.Numero = numero.String
	cfg.Bairro = bairro.String
	cfg.Municipio = cidade.String
	cfg.UF = estado.String
	cfg.CEP = cep.String
	cfg.RegimeEspecialTributacao = int(regime.Int64)
	cfg.FocusToken = token.String
	cfg.FocusAmbiente = ambiente.String
	if cfg.FocusAmbiente == "" {
		cfg.FocusAmbiente = "sandbox"
	}

	return &cfg, nil
}

// ============================================================================
// Leitura: ordem de serviço + cliente + veículo + itens
// ============================================================================

// CarregarOrdem monta a ordem com tudo que a emissão precisa. Itens de serviço
// chegam com a entrada do catálogo já resolvida.
func (s *Store) CarregarOrdem(ctx context.Context, ordemID int64) (*fiscal.OrdemFiscal, error) {
	const q = `
SELECT
	so.id,
	so.total_amount,
	so.discount,
	so.final_amount,
	so.status,
	COALESCE(so.invoice_status, ''),
	COALESCE(so.invoice_reference, ''),
	c.name,
	COALESCE(c.cpf_cnpj, ''),
	COALESCE(c.email, ''),
	COALESCE(c.phone, ''),
	COALESCE(c.address, ''),
	COALESCE(c.address_number, ''),
	COALESCE(c.neighborhood, ''),
	COALESCE(c.city_code, ''),
	COALESCE(c.city, ''),
	COALESCE(c.state, ''),
	COALESCE(c.zip_code, ''),
	v.model,
	v.plate
FROM service_orders so
JOIN customers c ON c.id = so.customer_id
LEFT JOIN vehicles v ON v.id = so.vehicle_id
WHERE so.id = $1;
`

	var (
		ordem         fiscal.OrdemFiscal
		finalAmount   sql.NullFloat64
		modelo, placa sql.NullString
	)

	err := s.db.QueryRowContext(ctx, q, ordemID).Scan(
		&ordem.ID,
		&ordem.TotalBruto,
		&ordem.Desconto,
		&finalAmount,
		&ordem.Status,
		&ordem.StatusNota,
		&ordem.ReferenciaNota,
		&ordem.Cliente.Nome,
		&ordem.Cliente.Documento,
		&ordem.Cliente.Email,
		&ordem.Cliente.Telefone,
		&ordem.Cliente.Logradouro,
		&ordem.Cliente.Numero,
		&ordem.Cliente.Bairro,
		&ordem.Cliente.CodigoMunicipio,
		&ordem.Cliente.Municipio,
		&ordem.Cliente.UF,
		&ordem.Cliente.CEP,
		&modelo,
		&placa,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrdemNaoEncontrada
	}
	if err != nil {
		return nil, fmt.Errorf("erro lendo ordem %d: %w", ordemID, err)
	}

	if finalAmount.Valid {
		v := finalAmount.Float64
		ordem.TotalLiquido = &v
	}
	if modelo.Valid || placa.Valid {
		ordem.Veiculo = &fiscal.Veiculo{Modelo: modelo.String, Placa: placa.String}
	}

	itens, err := s.carregarItens(ctx, ordemID)
	if err != nil {
		return nil, err
	}
	ordem.Itens = itens

	return &ordem, nil
}

func (s *Store) carregarItens(ctx context.Context, ordemID int64) ([]fiscal.ItemOrdem, error) {
	const q = `
SELECT
	i.item_type,
	COALESCE(i.description, ''),
	i.quantity,
	i.unit_price,
	i.total_price,
	sv.id,
	sv.name,
	COALESCE(sv.codigo_servico_municipal, ''),
	COALESCE(sv.nbs_code, ''),
	COALESCE(sv.cnae_code, ''),
	COALESCE(sv.issqn_aliquota, 0),
	COALESCE(sv.isento_nfe, FALSE)
FROM service_order_items i
LEFT JOIN services sv ON sv.id = i.service_id
WHERE i.service_order_id = $1
ORDER BY i.id;
`

	rows, err := s.db.QueryContext(ctx, q, ordemID)
	if err != nil {
		return nil, fmt.Errorf("erro lendo itens da ordem %d: %w", ordemID, err)
	}
	defer rows.Close()

	var itens []fiscal.ItemOrdem
	for rows.Next() {
		var (
			it       fiscal.ItemOrdem
			svID     sql.NullInt64
			svNome   sql.NullString
			svCod    sql.NullString
			svNBS    sql.NullString
			svCNAE   sql.NullString
			svAliq   sql.NullFloat64
			svIsento sql.NullBool
		)
		if err := rows.Scan(
			&it.Tipo,
			&it.Descricao,
			&it.Quantidade,
			&it.ValorUnitario,
			&it.ValorTotal,
			&svID,
			&svNome,
			&svCod,
			&svNBS,
			&svCNAE,
			&svAliq,
			&svIsento,
		); err != nil {
			return nil, fmt.Errorf("erro lendo item da ordem %d: %w", ordemID, err)
		}

		if svID.Valid {
			it.Servico = &fiscal.ServicoCatalogo{
				Nome:            svNome.String,
				CodigoMunicipal: svCod.String,
				CodigoNBS:       svNBS.String,
				CodigoCNAE:      svCNAE.String,
				AliquotaISS:     svAliq.Float64,
				IsentoNFSe:      svIsento.Bool,
			}
		}

		itens = append(itens, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("erro iterando itens da ordem %d: %w", ordemID, err)
	}

	return itens, nil
}

// ============================================================================
// Escrita: campos fiscais da ordem
// ============================================================================

// IniciarEmissao grava a referência e marca a ordem como "processando" ANTES
// da chamada de rede. Se o processo cair entre o aceite do gateway e o update
// seguinte, a referência persistida permite retomar por consulta.
func (s *Store) IniciarEmissao(ctx context.Context, ordemID int64, referencia string) error {
	const q = `
UPDATE service_orders SET
	invoice_status = 'processando',
	invoice_reference = $2,
	invoice_updated_at = NOW()
WHERE id = $1;
`
	res, err := s.db.ExecContext(ctx, q, ordemID, referencia)
	if err != nil {
		return fmt.Errorf("erro gravando referência de emissão da ordem %d: %w", ordemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrdemNaoEncontrada
	}

	slog.Info("referência de emissão gravada",
		"ordem_id", ordemID,
		"referencia", referencia,
	)
	return nil
}

// AtualizacaoFiscal é o conjunto fixo de campos fiscais que a reconciliação
// pode escrever na ordem. Campos vazios viram NULL.
type AtualizacaoFiscal struct {
	Status            string
	Numero            string
	Chave             string
	CodigoVerificacao string
	URLPdf            string
	URLXml            string
	Erro              string
	ErroCodigo        string
}

// AplicarAtualizacaoFiscal escreve o conjunto fixo de campos fiscais da ordem.
func (s *Store) AplicarAtualizacaoFiscal(ctx context.Context, ordemID int64, a AtualizacaoFiscal) error {
	const q = `
UPDATE service_orders SET
	invoice_status = $2,
	invoice_number = $3,
	invoice_key = $4,
	invoice_verification_code = $5,
	invoice_pdf_url = $6,
	invoice_xml_url = $7,
	invoice_error = $8,
	invoice_error_code = $9,
	invoice_updated_at = NOW()
WHERE id = $1;
`
	res, err := s.db.ExecContext(ctx, q,
		ordemID,
		a.Status,
		nullableString(a.Numero),
		nullableString(a.Chave),
		nullableString(a.CodigoVerificacao),
		nullableString(a.URLPdf),
		nullableString(a.URLXml),
		nullableString(a.Erro),
		nullableString(a.ErroCodigo),
	)
	if err != nil {
		return fmt.Errorf("erro atualizando campos fiscais da ordem %d: %w", ordemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrdemNaoEncontrada
	}

	slog.Info("campos fiscais atualizados",
		"ordem_id", ordemID,
		"invoice_status", a.Status,
	)
	return nil
}

// ============================================================================
// Worker: ordens aguardando reconciliação
// ============================================================================

// PendenteReconciliacao é uma ordem com emissão em voo.
type PendenteReconciliacao struct {
	OrdemID    int64
	Referencia string
}

// ListarPendentesReconciliacao devolve as ordens em processando ou
// processando_autorizacao com referência gravada, para o modo de varredura
// do worker. Inclui 'processando' de propósito: cobre queda entre o aceite
// do gateway e o update de status.
func (s *Store) ListarPendentesReconciliacao(ctx context.Context) ([]PendenteReconciliacao, error) {
	const q = `
SELECT id, invoice_reference
FROM service_orders
WHERE invoice_status IN ('processando', 'processando_autorizacao')
  AND invoice_reference IS NOT NULL
  AND invoice_reference <> ''
ORDER BY invoice_updated_at;
`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("erro listando ordens pendentes de reconciliação: %w", err)
	}
	defer rows.Close()

	var pendentes []PendenteReconciliacao
	for rows.Next() {
		var p PendenteReconciliacao
		if err := rows.Scan(&p.OrdemID, &p.Referencia); err != nil {
			return nil, fmt.Errorf("erro lendo ordem pendente: %w", err)
		}
		pendentes = append(pendentes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("erro iterando ordens pendentes: %w", err)
	}

	return pendentes, nil
}

// ========================= helpers =============================

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
