package main

import (
	"bufio"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"oficina-nfse/internal/config"
	"oficina-nfse/internal/migrations"
)

// Prepara o banco da oficina: cria o database quando não existe e aplica as
// migrations. --auto roda sem perguntar nada (provisionamento); --force, só
// em modo manual, dropa e recria o banco depois de confirmação explícita.
func main() {
	auto := flag.Bool("auto", false, "não interativo: cria o banco se faltar e aplica migrations; nunca dropa")
	force := flag.Bool("force", false, "dropa e recria o banco existente (pede confirmação; ignorado com --auto)")
	flag.Parse()

	log.Println("[oficina-migrator] iniciando...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("erro carregando configuração: %v", err)
	}

	admin := abrirOuMorrer(cfg.AdminDSN(), "Postgres admin")
	defer admin.Close()
	log.Printf("conectado ao Postgres admin em %s:%d", cfg.DBHost, cfg.DBPort)

	existe, err := bancoExiste(admin, cfg.DBName)
	if err != nil {
		log.Fatalf("erro verificando existência do banco %q: %v", cfg.DBName, err)
	}

	switch {
	case existe && !*auto && *force:
		log.Printf("--force: o banco %q será APAGADO e recriado do zero.", cfg.DBName)
		if !confirmar(fmt.Sprintf("Dropar e recriar o banco %q? [s/N] ", cfg.DBName)) {
			log.Println("operação cancelada; nada foi alterado.")
			return
		}
		if err := droparBanco(admin, cfg.DBName); err != nil {
			log.Fatalf("erro dropando banco %q: %v", cfg.DBName, err)
		}
		if err := criarBanco(admin, cfg.DBName); err != nil {
			log.Fatalf("erro recriando banco %q: %v", cfg.DBName, err)
		}
		log.Printf("banco %q recriado.", cfg.DBName)

	case existe:
		// --auto nunca dropa, mesmo combinado com --force.
		log.Printf("banco %q já existe; aplicando apenas as migrations.", cfg.DBName)

	case !*auto:
		log.Printf("banco %q não existe.", cfg.DBName)
		if !confirmar("Criar agora? [s/N] ") {
			log.Println("operação cancelada; nada foi alterado.")
			return
		}
		fallthrough

	default:
		if err := criarBanco(admin, cfg.DBName); err != nil {
			log.Fatalf("erro criando banco %q: %v", cfg.DBName, err)
		}
		log.Printf("banco %q criado.", cfg.DBName)
	}

	app := abrirOuMorrer(cfg.AppDSN(), "banco da aplicação")
	defer app.Close()

	if err := migrations.Run(app); err != nil {
		log.Fatalf("erro executando migrations: %v", err)
	}
	log.Println("migrations aplicadas; banco pronto para uso.")
}

func abrirOuMorrer(dsn, rotulo string) *sql.DB {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("erro conectando ao %s: %v", rotulo, err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("erro no ping ao %s: %v", rotulo, err)
	}
	return db
}

func bancoExiste(db *sql.DB, nome string) (bool, error) {
	var existe bool
	err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1);`, nome).Scan(&existe)
	return existe, err
}

func criarBanco(db *sql.DB, nome string) error {
	// template0 + UTF8 pra não herdar collation do template local.
	_, err := db.Exec(fmt.Sprintf(`CREATE DATABASE "%s" WITH TEMPLATE=template0 ENCODING 'UTF8';`, nome))
	return err
}

func droparBanco(db *sql.DB, nome string) error {
	// derruba conexões penduradas antes do DROP
	const kill = `
SELECT pg_terminate_backend(pid)
FROM pg_stat_activity
WHERE datname = $1
  AND pid <> pg_backend_pid();
`
	if _, err := db.Exec(kill, nome); err != nil {
		return fmt.Errorf("erro terminando conexões do banco %q: %w", nome, err)
	}

	// identificador não aceita parâmetro; montado com fmt
	if _, err := db.Exec(fmt.Sprintf(`DROP DATABASE "%s";`, nome)); err != nil {
		return fmt.Errorf("erro no DROP DATABASE %q: %w", nome, err)
	}
	return nil
}

func confirmar(pergunta string) bool {
	fmt.Print(pergunta)
	linha, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	linha = strings.TrimSpace(strings.ToLower(linha))
	return linha == "s" || linha == "sim" || linha == "y" || linha == "yes"
}
