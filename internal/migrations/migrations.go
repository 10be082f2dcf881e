package migrations

import (
	"database/sql"
	"fmt"
)

// Run executa todas as migrations necessárias no banco da aplicação.
func Run(db *sql.DB) error {
	stmts := []string{
		// customers
		`
CREATE TABLE IF NOT EXISTS customers (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    cpf_cnpj VARCHAR(20),
    email VARCHAR(255),
    phone VARCHAR(20),

    address VARCHAR(255),
    address_number VARCHAR(20),
    neighborhood VARCHAR(120),
    city_code VARCHAR(10),
    city VARCHAR(120),
    state CHAR(2),
    zip_code VARCHAR(10),

    created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
);
`,
		`CREATE INDEX IF NOT EXISTS idx_customers_cpf_cnpj ON customers (cpf_cnpj);`,

		// vehicles
		`
CREATE TABLE IF NOT EXISTS vehicles (
    id BIGSERIAL PRIMARY KEY,
    customer_id BIGINT NOT NULL,

    model VARCHAR(120) NOT NULL,
    plate VARCHAR(10) NOT NULL,
    brand VARCHAR(60),
    year SMALLINT,

    created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),

    CONSTRAINT fk_vehicles_customer
        FOREIGN KEY (customer_id) REFERENCES customers(id)
        ON DELETE CASCADE
);
`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_customer ON vehicles (customer_id);`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_plate ON vehicles (plate);`,

		// services (catálogo, com os campos fiscais)
		`
CREATE TABLE IF NOT EXISTS services (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description VARCHAR(500),
    price NUMERIC(15,2) NOT NULL DEFAULT 0,

    codigo_servico_municipal VARCHAR(20),
    nbs_code VARCHAR(12),
    cnae_code VARCHAR(10),
    issqn_aliquota NUMERIC(5,2) DEFAULT 0,
    isento_nfe BOOLEAN NOT NULL DEFAULT FALSE,

    created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
);
`,

		// service_orders (com o sub-registro fiscal)
		`
CREATE TABLE IF NOT EXISTS service_orders (
    id BIGSERIAL PRIMARY KEY,
    customer_id BIGINT NOT NULL,
    vehicle_id BIGINT,

    total_amount NUMERIC(15,2) NOT NULL DEFAULT 0,
    discount NUMERIC(15,2) NOT NULL DEFAULT 0,
    final_amount NUMERIC(15,2),
    status VARCHAR(30) NOT NULL DEFAULT 'open',

    invoice_status VARCHAR(30),
    invoice_reference VARCHAR(60),
    invoice_number VARCHAR(30),
    invoice_key VARCHAR(60),
    invoice_verification_code VARCHAR(60),
    invoice_pdf_url VARCHAR(500),
    invoice_xml_url VARCHAR(500),
    invoice_error TEXT,
    invoice_error_code VARCHAR(40),
    invoice_updated_at TIMESTAMP(3),

    created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),

    CONSTRAINT fk_service_orders_customer
        FOREIGN KEY (customer_id) REFERENCES customers(id),
    CONSTRAINT fk_service_orders_vehicle
        FOREIGN KEY (vehicle_id) REFERENCES vehicles(id)
);
`,
		`CREATE INDEX IF NOT EXISTS idx_service_orders_customer ON service_orders (customer_id);`,
		`CREATE INDEX IF NOT EXISTS idx_service_orders_invoice_status ON service_orders (invoice_status);`,
		`CREATE INDEX IF NOT EXISTS idx_service_orders_invoice_reference ON service_orders (invoice_reference);`,

		// service_order_items
		`
CREATE TABLE IF NOT EXISTS service_order_items (
    id BIGSERIAL PRIMARY KEY,
    service_order_id BIGINT NOT NULL,

    item_type VARCHAR(10) NOT NULL,
    service_id BIGINT,
    description VARCHAR(255),
    quantity NUMERIC(15,4) NOT NULL DEFAULT 1,
    unit_price NUMERIC(15,2) NOT NULL DEFAULT 0,
    total_price NUMERIC(15,2) NOT NULL DEFAULT 0,

    created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),

    CONSTRAINT fk_items_order
        FOREIGN KEY (service_order_id) REFERENCES service_orders(id)
        ON DELETE CASCADE,
    CONSTRAINT fk_items_service
        FOREIGN KEY (service_id) REFERENCES services(id)
);
`,
		`CREATE INDEX IF NOT EXISTS idx_items_order ON service_order_items (service_order_id);`,
		`CREATE INDEX IF NOT EXISTS idx_items_service ON service_order_items (service_id);`,

		// system_settings (identidade fiscal do emissor, linha única)
		`
CREATE TABLE IF NOT EXISTS system_settings (
    id BIGSERIAL PRIMARY KEY,

    cnpj VARCHAR(20) NOT NULL,
    razao_social VARCHAR(255) NOT NULL,
    inscricao_municipal VARCHAR(30),
    codigo_municipio VARCHAR(10) NOT NULL,

    logradouro VARCHAR(255),
    numero VARCHAR(20),
    bairro VARCHAR(120),
    cidade VARCHAR(120),
    estado CHAR(2),
    cep VARCHAR(10),

    optante_simples_nacional BOOLEAN NOT NULL DEFAULT TRUE,
    regime_especial_tributacao SMALLINT NOT NULL DEFAULT 0,
    incentivo_fiscal BOOLEAN NOT NULL DEFAULT FALSE,

    focus_nfe_token VARCHAR(120),
    focus_nfe_environment VARCHAR(20) NOT NULL DEFAULT 'sandbox',

    created_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
    updated_at TIMESTAMP(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
);
`,
	}

	for i, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("erro executando migration %d: %w", i+1, err)
		}
	}

	return nil
}
